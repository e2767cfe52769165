package git

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/broomy/broomy-core/logger"
)

// MaxBranchNameLength is the longest branch name accepted for new sessions.
const MaxBranchNameLength = 100

var validBranchName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// ValidateBranchName checks that name is safe to pass to git as a new branch.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if len(name) > MaxBranchNameLength {
		return fmt.Errorf("branch name too long (max %d characters)", MaxBranchNameLength)
	}
	if !validBranchName.MatchString(name) {
		return fmt.Errorf("branch name %q contains invalid characters (use letters, numbers, /, _, . and -)", name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return fmt.Errorf("branch name %q cannot contain '..' or '//'", name)
	}
	if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("branch name %q has an invalid ending", name)
	}
	return nil
}

// BranchDivergence represents the divergence between local and remote branches.
type BranchDivergence struct {
	Behind int `json:"behind"` // Number of commits local is behind remote
	Ahead  int `json:"ahead"`  // Number of commits local is ahead of remote
}

// IsDiverged returns true if the branches have diverged (both ahead and behind).
func (d *BranchDivergence) IsDiverged() bool {
	return d.Behind > 0 && d.Ahead > 0
}

// GetRemoteURL returns the URL of the "origin" remote.
func (s *GitService) GetRemoteURL(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to get remote origin URL: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasRemoteOrigin checks if the repository has a remote named "origin"
func (s *GitService) HasRemoteOrigin(ctx context.Context, repoPath string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "remote", "get-url", "origin")
	return err == nil
}

// ExtractOwnerRepo extracts "owner/repo" from a git remote URL.
// Supports SSH (git@github.com:owner/repo.git, ssh://git@github.com/owner/repo)
// and HTTPS (https://github.com/owner/repo.git) formats.
// Returns empty string if the URL cannot be parsed.
func ExtractOwnerRepo(remoteURL string) string {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return ""
	}

	// SSH format: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		_, path, ok := strings.Cut(remoteURL, ":")
		if !ok {
			return ""
		}
		return ownerRepoPath(path)
	}

	for _, prefix := range []string{"https://", "http://", "ssh://"} {
		if rest, ok := strings.CutPrefix(remoteURL, prefix); ok {
			// rest is like "github.com/owner/repo.git"
			_, after, ok := strings.Cut(rest, "/")
			if !ok {
				return ""
			}
			return ownerRepoPath(after)
		}
	}

	return ""
}

func ownerRepoPath(path string) string {
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	owner, repo, ok := strings.Cut(path, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return ""
	}
	return path
}

// GetDefaultBranch returns the default branch name (origin HEAD, else main or master)
func (s *GitService) GetDefaultBranch(ctx context.Context, repoPath string) string {
	output, err := s.executor.Output(ctx, repoPath, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		// Output is like "refs/remotes/origin/main"
		ref := strings.TrimSpace(string(output))
		if branch, ok := strings.CutPrefix(ref, "refs/remotes/origin/"); ok && branch != "" {
			return branch
		}
	}

	// Fallback: check if main exists, otherwise use master
	if _, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "-q", "main"); err == nil {
		return "main"
	}
	if _, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "-q", "master"); err == nil {
		return "master"
	}
	return "main"
}

// GetCurrentBranch returns the name of the currently checked out branch in the given repo/worktree.
// Returns an error if HEAD is detached or the command fails.
func (s *GitService) GetCurrentBranch(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", fmt.Errorf("HEAD is detached (not on a branch)")
	}
	return branch, nil
}

// HeadCommit returns the full hash of HEAD.
func (s *GitService) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasTrackingBranch checks if the given branch has an upstream tracking branch configured.
// Uses git config to check for branch.<name>.remote which is set when tracking is configured.
func (s *GitService) HasTrackingBranch(ctx context.Context, repoPath, branch string) bool {
	_, err := s.executor.Output(ctx, repoPath, "git", "config", "--get", fmt.Sprintf("branch.%s.remote", branch))
	return err == nil
}

// BranchExists reports whether a local branch exists.
func (s *GitService) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "-q", "refs/heads/"+branch)
	return err == nil
}

// RemoteBranchExists checks if a remote branch reference exists (e.g., "origin/main").
func (s *GitService) RemoteBranchExists(ctx context.Context, repoPath, remoteBranch string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "-q", "refs/remotes/"+remoteBranch)
	return err == nil
}

// GetBranchDivergence returns how many commits the local branch is behind and ahead
// of the remote branch. Uses git rev-list --count --left-right which outputs "behind\tahead".
func (s *GitService) GetBranchDivergence(ctx context.Context, repoPath, localBranch, remoteBranch string) (*BranchDivergence, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "rev-list", "--count", "--left-right",
		fmt.Sprintf("%s...%s", remoteBranch, localBranch))
	if err != nil {
		return nil, fmt.Errorf("failed to get branch divergence: %w", err)
	}

	parts := strings.Fields(strings.TrimSpace(string(output)))
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected rev-list output format: %q", string(output))
	}

	behind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse behind count: %w", err)
	}
	ahead, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ahead count: %w", err)
	}

	return &BranchDivergence{Behind: behind, Ahead: ahead}, nil
}

// IsBehindMain returns how many commits HEAD is missing from origin's default branch.
func (s *GitService) IsBehindMain(ctx context.Context, repoPath string) (int, error) {
	base := s.GetDefaultBranch(ctx, repoPath)
	div, err := s.GetBranchDivergence(ctx, repoPath, "HEAD", "origin/"+base)
	if err != nil {
		return 0, err
	}
	return div.Behind, nil
}

// FetchOrigin fetches from origin. Failure is not fatal for callers that only
// want fresh refs, so it is logged and returned.
func (s *GitService) FetchOrigin(ctx context.Context, repoPath string, refs ...string) error {
	args := append([]string{"fetch", "origin"}, refs...)
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", args...)
	if err != nil {
		logger.WithComponent("git").Warn("git fetch failed", "repoPath", repoPath, "output", strings.TrimSpace(string(output)), "error", err)
		return fmt.Errorf("git fetch failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// CheckoutBranch checks out the specified branch in the given repo.
func (s *GitService) CheckoutBranch(ctx context.Context, repoPath, branch string) error {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "checkout", branch)
	if err != nil {
		return fmt.Errorf("git checkout failed: %s: %w", strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("checked out branch", "branch", branch, "repoPath", repoPath)
	return nil
}

// DeleteBranch deletes a local branch. Without force, unmerged branches are kept.
func (s *GitService) DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "branch", flag, branch)
	if err != nil {
		return fmt.Errorf("git branch %s failed: %s: %w", flag, strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("deleted branch", "branch", branch, "repoPath", repoPath, "force", force)
	return nil
}
