package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/broomy/broomy-core/logger"
)

// IsGitRepo reports whether path is inside a git working tree, including
// linked worktrees.
func IsGitRepo(path string) bool {
	_, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	return err == nil
}

// RepoRoot returns the top-level directory of the working tree containing path.
func RepoRoot(path string) (string, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("repository has no working tree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// CloneRepo clones url into dest. go-git handles anonymous and agent-backed
// SSH clones; when it is refused credentials the git CLI is used so the
// user's credential helpers apply. progress may be nil.
func (s *GitService) CloneRepo(ctx context.Context, url, dest string, progress io.Writer) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("clone URL is required")
	}
	if entries, err := os.ReadDir(dest); err == nil && len(entries) > 0 {
		return fmt.Errorf("destination %s already exists and is not empty", dest)
	}

	log := logger.WithComponent("git")
	log.Info("cloning repository", "url", url, "dest", dest)

	_, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL:      url,
		Progress: progress,
	})
	if err == nil {
		return nil
	}
	if !isAuthError(err) {
		return fmt.Errorf("clone failed: %w", err)
	}

	log.Info("go-git clone needs credentials, falling back to git CLI", "url", url, "error", err)
	_ = os.RemoveAll(dest)
	output, cerr := s.executor.CombinedOutput(ctx, "", "git", "clone", "--", url, dest)
	if cerr != nil {
		return fmt.Errorf("git clone failed: %s: %w", strings.TrimSpace(string(output)), cerr)
	}
	return nil
}

func isAuthError(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrInvalidAuthMethod) ||
		strings.Contains(err.Error(), "ssh: handshake failed") ||
		strings.Contains(err.Error(), "ssh: unable to authenticate")
}
