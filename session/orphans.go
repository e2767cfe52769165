package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/broomy/broomy-core/logger"
)

// OrphanedWorktree is a worktree directory no session points at.
type OrphanedWorktree struct {
	Path     string `json:"path"`
	RepoPath string `json:"repoPath"` // Main repository the worktree belongs to
	RepoName string `json:"repoName"` // Directory under the worktrees root
}

// FindOrphanedWorktrees scans <worktrees>/<repo>/<branch> directories and
// returns those that belong to a managed repo but have no session.
func (s *SessionService) FindOrphanedWorktrees() ([]OrphanedWorktree, error) {
	log := logger.WithComponent("session")

	known := make(map[string]bool)
	for _, sess := range s.cfg.GetSessions() {
		known[canonical(sess.Directory)] = true
	}
	repoPaths := make(map[string]bool)
	for _, repo := range s.cfg.GetRepos() {
		repoPaths[canonical(repo.RootDir)] = true
	}

	repoDirs, err := os.ReadDir(s.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var mu sync.Mutex
	var orphans []OrphanedWorktree
	var wg sync.WaitGroup
	for _, entry := range repoDirs {
		if !entry.IsDir() {
			continue
		}
		wg.Add(1)
		go func(repoName string) {
			defer wg.Done()
			found := findOrphansInDir(filepath.Join(s.worktreesDir, repoName), repoName, known, repoPaths)
			mu.Lock()
			orphans = append(orphans, found...)
			mu.Unlock()
		}(entry.Name())
	}
	wg.Wait()

	log.Info("orphaned worktree search complete", "count", len(orphans))
	return orphans, nil
}

func findOrphansInDir(dir, repoName string, known, repoPaths map[string]bool) []OrphanedWorktree {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var orphans []OrphanedWorktree
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if known[canonical(path)] {
			continue
		}
		repoPath, err := getWorktreeRepoPath(path)
		if err != nil || !repoPaths[canonical(repoPath)] {
			continue
		}
		orphans = append(orphans, OrphanedWorktree{Path: path, RepoPath: repoPath, RepoName: repoName})
	}
	return orphans
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// getWorktreeRepoPath determines which repository a worktree belongs to by
// reading its .git file, which points at <repo>/.git/worktrees/<name>.
func getWorktreeRepoPath(worktreePath string) (string, error) {
	content, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return "", fmt.Errorf("failed to read .git file: %w", err)
	}

	line := strings.TrimSpace(string(content))
	gitdir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("invalid .git file format: %s", line)
	}
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(worktreePath, gitdir)
	}

	for dir := filepath.Clean(gitdir); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		if filepath.Base(dir) == ".git" {
			return canonical(filepath.Dir(dir)), nil
		}
	}
	return "", fmt.Errorf("could not find .git directory in path: %s", gitdir)
}

// PruneOrphanedWorktrees removes every orphaned worktree and its branch.
// Repos are processed in parallel, orphans of one repo sequentially so git
// never runs concurrently against the same repository.
func (s *SessionService) PruneOrphanedWorktrees(ctx context.Context) (int, error) {
	log := logger.WithComponent("session")

	orphans, err := s.FindOrphanedWorktrees()
	if err != nil || len(orphans) == 0 {
		return 0, err
	}

	byRepo := make(map[string][]OrphanedWorktree)
	for _, o := range orphans {
		byRepo[o.RepoPath] = append(byRepo[o.RepoPath], o)
	}

	var mu sync.Mutex
	pruned := 0
	var wg sync.WaitGroup
	for repoPath, repoOrphans := range byRepo {
		wg.Add(1)
		go func(repoPath string, repoOrphans []OrphanedWorktree) {
			defer wg.Done()
			for _, orphan := range repoOrphans {
				log.Info("pruning orphaned worktree", "path", orphan.Path)
				branch, _ := s.git.GetCurrentBranch(ctx, orphan.Path)

				if err := s.git.RemoveWorktree(ctx, repoPath, orphan.Path, true); err != nil {
					log.Warn("git worktree remove failed, trying direct removal", "path", orphan.Path)
					if err := os.RemoveAll(orphan.Path); err != nil {
						log.Error("failed to remove orphan", "path", orphan.Path, "error", err)
						continue
					}
				}
				if branch != "" && branch != s.git.GetDefaultBranch(ctx, repoPath) {
					if err := s.git.DeleteBranch(ctx, repoPath, branch, true); err != nil {
						log.Warn("failed to delete branch (may already be deleted)", "branch", branch, "error", err)
					}
				}

				mu.Lock()
				pruned++
				mu.Unlock()
			}
		}(repoPath, repoOrphans)
	}
	wg.Wait()

	// Remove repo directories left empty.
	if entries, err := os.ReadDir(s.worktreesDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = os.Remove(filepath.Join(s.worktreesDir, e.Name()))
			}
		}
	}
	return pruned, nil
}
