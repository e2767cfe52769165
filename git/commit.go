package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/broomy/broomy-core/logger"
)

// ErrEmptyCommitMessage is returned by Commit for a blank message.
var ErrEmptyCommitMessage = errors.New("commit message cannot be empty")

// SyncResult describes the outcome of merging the default branch into a session branch.
type SyncResult struct {
	Success   bool     `json:"success"`
	Conflicts []string `json:"conflicts,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// DiffStats represents the statistics of uncommitted changes
type DiffStats struct {
	FilesChanged int `json:"filesChanged"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

// Stage adds a single file to the index.
func (s *GitService) Stage(ctx context.Context, dir, file string) error {
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "add", "--", file); err != nil {
		return fmt.Errorf("git add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// StageAll adds every change, including untracked files, to the index.
func (s *GitService) StageAll(ctx context.Context, dir string) error {
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Unstage removes a file from the index, keeping the working tree copy.
func (s *GitService) Unstage(ctx context.Context, dir, file string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "reset", "-q", "HEAD", "--", file)
	if err == nil {
		return nil
	}
	// No HEAD yet (first commit): drop the path from the index instead.
	out2, err2 := s.executor.CombinedOutput(ctx, dir, "git", "rm", "--cached", "-q", "--", file)
	if err2 == nil {
		return nil
	}
	output = append(output, out2...)
	return fmt.Errorf("git reset failed: %s: %w", strings.TrimSpace(string(output)), err)
}

// DiscardFile throws away all changes to file. Files unknown to HEAD are deleted.
func (s *GitService) DiscardFile(ctx context.Context, dir, file string) error {
	log := logger.WithComponent("git")

	if _, _, err := s.executor.Run(ctx, dir, "git", "cat-file", "-e", "HEAD:"+file); err == nil {
		output, err := s.executor.CombinedOutput(ctx, dir, "git", "checkout", "HEAD", "--", file)
		if err != nil {
			return fmt.Errorf("git checkout failed: %s: %w", strings.TrimSpace(string(output)), err)
		}
		log.Info("discarded changes", "dir", dir, "file", file)
		return nil
	}

	// Added or untracked: unstage if needed, then delete.
	_, _, _ = s.executor.Run(ctx, dir, "git", "rm", "--cached", "-q", "--ignore-unmatch", "--", file)
	target := file
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, file)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove %s: %w", file, err)
	}
	log.Info("removed new file", "dir", dir, "file", file)
	return nil
}

// Commit commits the index with message. The message is passed on stdin so
// it is never mangled by argument quoting.
func (s *GitService) Commit(ctx context.Context, dir, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyCommitMessage
	}
	stdout, stderr, err := s.executor.RunWithInput(ctx, dir, []byte(message), "git", "commit", "-F", "-")
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		return fmt.Errorf("git commit failed: %s: %w", msg, err)
	}

	logger.WithComponent("git").Info("committed", "dir", dir)
	return nil
}

// Push pushes the current branch, setting the upstream when it has none.
func (s *GitService) Push(ctx context.Context, dir string) error {
	branch, err := s.GetCurrentBranch(ctx, dir)
	if err != nil {
		return err
	}

	args := []string{"push"}
	if !s.HasTrackingBranch(ctx, dir, branch) {
		args = append(args, "-u", "origin", branch)
	}
	output, err := s.executor.CombinedOutput(ctx, dir, "git", args...)
	if err != nil {
		return fmt.Errorf("git push failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("pushed branch", "dir", dir, "branch", branch)
	return nil
}

// PushNewBranch publishes branch to origin and tracks it.
func (s *GitService) PushNewBranch(ctx context.Context, dir, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "push", "-u", "origin", branch)
	if err != nil {
		return fmt.Errorf("git push failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("published branch", "dir", dir, "branch", branch)
	return nil
}

// Pull merges the upstream branch into the current branch.
func (s *GitService) Pull(ctx context.Context, dir string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "pull", "--no-rebase", "--no-edit")
	if err != nil {
		return fmt.Errorf("git pull failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// SyncWithMain fetches the default branch and merges it into HEAD.
// Merge conflicts are reported in the result rather than as an error; the
// merge is left in progress so the user (or agent) can resolve it.
func (s *GitService) SyncWithMain(ctx context.Context, dir string) (*SyncResult, error) {
	base := s.GetDefaultBranch(ctx, dir)
	if err := s.FetchOrigin(ctx, dir, base); err != nil {
		return nil, err
	}

	output, err := s.executor.CombinedOutput(ctx, dir, "git", "merge", "--no-edit", "origin/"+base)
	if err == nil {
		return &SyncResult{Success: true, Message: strings.TrimSpace(string(output))}, nil
	}

	conflicts, cerr := s.GetConflictedFiles(ctx, dir)
	if cerr == nil && len(conflicts) > 0 {
		logger.WithComponent("git").Warn("merge conflicts syncing with default branch", "dir", dir, "base", base, "files", len(conflicts))
		return &SyncResult{
			Conflicts: conflicts,
			Message:   fmt.Sprintf("merge of origin/%s has %d conflicted file(s)", base, len(conflicts)),
		}, nil
	}
	return nil, fmt.Errorf("git merge failed: %s: %w", strings.TrimSpace(string(output)), err)
}

// AbortMerge aborts an in-progress merge.
func (s *GitService) AbortMerge(ctx context.Context, dir string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "merge", "--abort")
	if err != nil {
		return fmt.Errorf("git merge --abort failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// FileDiff returns the diff of one file, against the index or HEAD when staged.
// Untracked files are diffed against /dev/null so they show as added.
func (s *GitService) FileDiff(ctx context.Context, dir, file string, staged bool) (string, error) {
	args := []string{"diff", "--no-ext-diff"}
	if staged {
		args = append(args, "--cached")
	}
	args = append(args, "--", file)

	output, err := s.executor.Output(ctx, dir, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git diff failed: %w", err)
	}
	if len(output) > 0 || staged {
		return string(output), nil
	}

	// git diff --no-index returns exit code 1 when files differ, which is expected
	output, err = s.executor.Output(ctx, dir, "git", "diff", "--no-ext-diff", "--no-index", "--", "/dev/null", file)
	if err != nil && len(output) == 0 {
		return "", nil
	}
	return string(output), nil
}

// ShowFile returns the content of file at ref (HEAD when empty).
func (s *GitService) ShowFile(ctx context.Context, dir, ref, file string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	output, err := s.executor.Output(ctx, dir, "git", "show", ref+":"+filepath.ToSlash(file))
	if err != nil {
		return "", fmt.Errorf("git show %s:%s failed: %w", ref, file, err)
	}
	return string(output), nil
}

// GetDiffStats returns line statistics for uncommitted changes against HEAD.
func (s *GitService) GetDiffStats(ctx context.Context, dir string) (*DiffStats, error) {
	output, err := s.executor.Output(ctx, dir, "git", "diff", "--no-ext-diff", "--numstat", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat failed: %w", err)
	}
	return parseNumstat(string(output)), nil
}

func parseNumstat(output string) *DiffStats {
	stats := &DiffStats{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 {
			continue
		}
		stats.FilesChanged++
		// Binary files report "-" for both counts.
		if n, err := strconv.Atoi(parts[0]); err == nil {
			stats.Additions += n
		}
		if n, err := strconv.Atoi(parts[1]); err == nil {
			stats.Deletions += n
		}
	}
	return stats
}
