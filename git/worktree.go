package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/broomy/broomy-core/logger"
)

// Worktree is one entry of `git worktree list`.
type Worktree struct {
	Path     string `json:"path"`
	Head     string `json:"head,omitempty"`
	Branch   string `json:"branch,omitempty"` // Empty when detached
	Detached bool   `json:"detached,omitempty"`
	Bare     bool   `json:"bare,omitempty"`
	Locked   bool   `json:"locked,omitempty"`
	Prunable bool   `json:"prunable,omitempty"`
}

// AddWorktree creates a worktree at path on a new branch started from base.
func (s *GitService) AddWorktree(ctx context.Context, repoPath, path, branch, base string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}

	log := logger.WithComponent("git")
	log.Info("creating git worktree", "repoPath", repoPath, "worktreePath", path, "branch", branch, "base", base)
	start := time.Now()

	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		log.Error("failed to create worktree", "duration", time.Since(start), "output", string(output), "error", err)
		return fmt.Errorf("failed to create worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	log.Debug("git worktree created", "duration", time.Since(start))
	return nil
}

// AddWorktreeForBranch checks out an existing branch into a new worktree.
func (s *GitService) AddWorktreeForBranch(ctx context.Context, repoPath, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "add", path, branch)
	if err != nil {
		return fmt.Errorf("failed to create worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ListWorktrees returns the worktrees of the repository at repoPath.
func (s *GitService) ListWorktrees(ctx context.Context, repoPath string) ([]Worktree, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed: %w", err)
	}
	return ParseWorktreeList(string(output)), nil
}

// ParseWorktreeList parses `git worktree list --porcelain` output, which is a
// sequence of blank-line separated attribute blocks.
func ParseWorktreeList(raw string) []Worktree {
	worktrees := []Worktree{}
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		var wt Worktree
		for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
			key, value, _ := strings.Cut(line, " ")
			switch key {
			case "worktree":
				wt.Path = value
			case "HEAD":
				wt.Head = value
			case "branch":
				wt.Branch = strings.TrimPrefix(value, "refs/heads/")
			case "detached":
				wt.Detached = true
			case "bare":
				wt.Bare = true
			case "locked":
				wt.Locked = true
			case "prunable":
				wt.Prunable = true
			}
		}
		if wt.Path != "" {
			worktrees = append(worktrees, wt)
		}
	}
	return worktrees
}

// RemoveWorktree removes the worktree at path and prunes stale references.
func (s *GitService) RemoveWorktree(ctx context.Context, repoPath, path string, force bool) error {
	log := logger.WithComponent("git")
	log.Info("removing worktree", "repoPath", repoPath, "worktree", path, "force", force)

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		log.Error("failed to remove worktree", "output", string(output), "error", err)
		return fmt.Errorf("failed to remove worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}

	// Prune worktree references (best-effort cleanup)
	if output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		log.Warn("worktree prune failed (best-effort)", "output", string(output), "error", err)
	}
	return nil
}

// GetGitRoot returns the top-level directory for path, or "" if it isn't in a repository.
func (s *GitService) GetGitRoot(ctx context.Context, path string) string {
	output, err := s.executor.Output(ctx, path, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// GitPath resolves a path inside the git directory, for example
// "info/exclude", honoring worktrees and GIT_DIR.
func (s *GitService) GitPath(ctx context.Context, dir, name string) (string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--git-path", name)
	if err != nil {
		return "", fmt.Errorf("git rev-parse --git-path failed: %w", err)
	}
	p := strings.TrimSpace(string(output))
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return p, nil
}
