package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// File status words reported to clients.
const (
	StatusModified   = "modified"
	StatusAdded      = "added"
	StatusDeleted    = "deleted"
	StatusRenamed    = "renamed"
	StatusUntracked  = "untracked"
	StatusConflicted = "conflicted"
)

// FileStatus is one entry of the source-control panel. A file changed in both
// the index and the working tree appears twice, once with Staged set.
type FileStatus struct {
	Path             string `json:"path"`
	OldPath          string `json:"oldPath,omitempty"` // Source of a rename
	Status           string `json:"status"`
	Staged           bool   `json:"staged"`
	IndexStatus      string `json:"indexStatus"`      // Porcelain X column
	WorkingDirStatus string `json:"workingDirStatus"` // Porcelain Y column
}

// StatusResult is the parsed output of git status for one working directory.
type StatusResult struct {
	Files    []FileStatus `json:"files"`
	Ahead    int          `json:"ahead"`
	Behind   int          `json:"behind"`
	Tracking string       `json:"tracking,omitempty"` // e.g. "origin/feature"
	Current  string       `json:"current,omitempty"`  // Empty when detached
	Detached bool         `json:"detached,omitempty"`
}

// UncommittedCount returns the number of distinct paths with changes.
func (r *StatusResult) UncommittedCount() int {
	seen := make(map[string]struct{}, len(r.Files))
	for _, f := range r.Files {
		seen[f.Path] = struct{}{}
	}
	return len(seen)
}

// HasChanges reports whether the working directory is dirty.
func (r *StatusResult) HasChanges() bool {
	return len(r.Files) > 0
}

// Status returns the branch and file status of the working directory dir.
func (s *GitService) Status(ctx context.Context, dir string) (*StatusResult, error) {
	output, err := s.executor.Output(ctx, dir, "git", "status", "--porcelain=v1", "-b", "-uall")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}
	return ParseStatus(string(output)), nil
}

// ParseStatus parses `git status --porcelain=v1 -b` output.
func ParseStatus(output string) *StatusResult {
	result := &StatusResult{Files: []FileStatus{}}

	// Only trim trailing newlines - leading space is significant in porcelain format
	// (e.g., " M file.go" means modified in worktree, the leading space is part of status)
	for _, line := range strings.Split(strings.TrimRight(output, "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "## ") {
			parseBranchLine(strings.TrimPrefix(line, "## "), result)
			continue
		}
		if len(line) < 4 {
			continue
		}
		result.Files = append(result.Files, parseFileLine(line)...)
	}
	return result
}

// parseBranchLine handles the header line, for example
// "main...origin/main [ahead 2, behind 1]", "HEAD (no branch)" or
// "No commits yet on main".
func parseBranchLine(line string, result *StatusResult) {
	if strings.HasPrefix(line, "HEAD (no branch)") {
		result.Detached = true
		return
	}
	for _, prefix := range []string{"No commits yet on ", "Initial commit on "} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			result.Current = rest
			return
		}
	}

	head, counts, _ := strings.Cut(line, " [")
	branch, tracking, _ := strings.Cut(head, "...")
	result.Current = branch
	result.Tracking = tracking

	counts = strings.TrimSuffix(counts, "]")
	for _, part := range strings.Split(counts, ", ") {
		if n, ok := strings.CutPrefix(part, "ahead "); ok {
			result.Ahead, _ = strconv.Atoi(n)
		}
		if n, ok := strings.CutPrefix(part, "behind "); ok {
			result.Behind, _ = strconv.Atoi(n)
		}
	}
}

func parseFileLine(line string) []FileStatus {
	x, y := line[0], line[1]
	path := line[3:]
	var oldPath string
	if from, to, ok := strings.Cut(path, " -> "); ok {
		oldPath, path = unquotePath(from), to
	}
	path = unquotePath(path)

	base := FileStatus{
		Path:             path,
		OldPath:          oldPath,
		IndexStatus:      string(x),
		WorkingDirStatus: string(y),
	}

	if x == '?' && y == '?' {
		base.Status = StatusUntracked
		return []FileStatus{base}
	}
	if x == '!' {
		return nil
	}
	if isConflict(x, y) {
		base.Status = StatusConflicted
		return []FileStatus{base}
	}

	var entries []FileStatus
	if x != ' ' {
		staged := base
		staged.Staged = true
		staged.Status = statusWord(x)
		entries = append(entries, staged)
	}
	if y != ' ' {
		unstaged := base
		unstaged.Status = statusWord(y)
		if x != ' ' {
			// The rename source belongs to the staged half.
			unstaged.OldPath = ""
		}
		entries = append(entries, unstaged)
	}
	return entries
}

func isConflict(x, y byte) bool {
	if x == 'U' || y == 'U' {
		return true
	}
	return (x == 'A' && y == 'A') || (x == 'D' && y == 'D')
}

func statusWord(code byte) string {
	switch code {
	case 'A', 'C':
		return StatusAdded
	case 'D':
		return StatusDeleted
	case 'R':
		return StatusRenamed
	case 'U':
		return StatusConflicted
	default:
		return StatusModified
	}
}

// unquotePath undoes git's C-style quoting of unusual file names.
func unquotePath(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		if s, err := strconv.Unquote(p); err == nil {
			return s
		}
	}
	return p
}

// GetConflictedFiles returns the list of files with merge conflicts in a repo
func (s *GitService) GetConflictedFiles(ctx context.Context, repoPath string) ([]string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicted files: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	if outputStr == "" {
		return nil, nil
	}
	return strings.Split(outputStr, "\n"), nil
}

// IsMergeInProgress checks if a merge is currently in progress in the repo.
// It returns true if MERGE_HEAD exists (meaning there's an ongoing merge).
func (s *GitService) IsMergeInProgress(ctx context.Context, repoPath string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "-q", "MERGE_HEAD")
	return err == nil
}
