package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSep separates git log fields; it cannot occur in commit subjects.
const fieldSep = "\x1f"

// ChangedFile is one entry of a --name-status listing.
type ChangedFile struct {
	Path    string `json:"path"`
	Status  string `json:"status"`
	OldPath string `json:"oldPath,omitempty"`
}

// BranchChangesResult lists the files a branch changed relative to its base.
type BranchChangesResult struct {
	Files      []ChangedFile `json:"files"`
	BaseBranch string        `json:"baseBranch"`
	MergeBase  string        `json:"mergeBase,omitempty"`
}

// CommitInfo is one commit of a branch.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Date      time.Time `json:"date"`
}

// baseRef resolves the ref a branch is compared against: origin/<base> when
// the remote branch exists, else the local base. An empty base means the
// repository's default branch.
func (s *GitService) baseRef(ctx context.Context, dir, base string) (string, string) {
	if base == "" {
		base = s.GetDefaultBranch(ctx, dir)
	}
	if s.RemoteBranchExists(ctx, dir, "origin/"+base) {
		return base, "origin/" + base
	}
	return base, base
}

// BranchChanges returns the files changed on HEAD since it forked from base.
func (s *GitService) BranchChanges(ctx context.Context, dir, base string) (*BranchChangesResult, error) {
	base, ref := s.baseRef(ctx, dir, base)
	result := &BranchChangesResult{Files: []ChangedFile{}, BaseBranch: base}

	if output, err := s.executor.Output(ctx, dir, "git", "merge-base", ref, "HEAD"); err == nil {
		result.MergeBase = strings.TrimSpace(string(output))
	}

	output, err := s.executor.Output(ctx, dir, "git", "diff", "--name-status", ref+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("git diff %s...HEAD failed: %w", ref, err)
	}
	result.Files = ParseNameStatus(string(output))
	return result, nil
}

// BranchCommits returns the commits on HEAD that are not on base, newest first.
func (s *GitService) BranchCommits(ctx context.Context, dir, base string) ([]CommitInfo, error) {
	_, ref := s.baseRef(ctx, dir, base)
	format := strings.Join([]string{"%H", "%h", "%s", "%an", "%aI"}, "%x1f")

	output, err := s.executor.Output(ctx, dir, "git", "log", "--format="+format, ref+"..HEAD")
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}
	return parseLog(string(output)), nil
}

func parseLog(output string) []CommitInfo {
	commits := []CommitInfo{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Split(line, fieldSep)
		if len(fields) != 5 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, fields[4])
		commits = append(commits, CommitInfo{
			Hash:      fields[0],
			ShortHash: fields[1],
			Message:   fields[2],
			Author:    fields[3],
			Date:      date,
		})
	}
	return commits
}

// CommitFiles returns the files touched by one commit.
func (s *GitService) CommitFiles(ctx context.Context, dir, hash string) ([]ChangedFile, error) {
	if hash == "" || strings.HasPrefix(hash, "-") {
		return nil, fmt.Errorf("invalid commit %q", hash)
	}
	output, err := s.executor.Output(ctx, dir, "git", "show", "--name-status", "--format=", hash)
	if err != nil {
		return nil, fmt.Errorf("git show %s failed: %w", hash, err)
	}
	return ParseNameStatus(string(output)), nil
}

// ParseNameStatus parses tab-separated `--name-status` output. Renames and
// copies carry a similarity score ("R087") followed by old and new paths.
func ParseNameStatus(output string) []ChangedFile {
	files := []ChangedFile{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		cf := ChangedFile{Path: unquotePath(parts[len(parts)-1])}
		switch parts[0][0] {
		case 'A', 'C':
			cf.Status = StatusAdded
		case 'D':
			cf.Status = StatusDeleted
		case 'R':
			cf.Status = StatusRenamed
		case 'U':
			cf.Status = StatusConflicted
		default:
			cf.Status = StatusModified
		}
		if len(parts) == 3 {
			cf.OldPath = unquotePath(parts[1])
		}
		files = append(files, cf)
	}
	return files
}

// IsMergedInto reports whether HEAD is reachable from ref, i.e. the branch
// has been merged. An empty ref means origin's default branch.
func (s *GitService) IsMergedInto(ctx context.Context, dir, ref string) bool {
	if ref == "" {
		_, ref = s.baseRef(ctx, dir, "")
	}
	_, _, err := s.executor.Run(ctx, dir, "git", "merge-base", "--is-ancestor", "HEAD", ref)
	return err == nil
}

// HasBranchCommits reports whether HEAD has commits that base does not.
func (s *GitService) HasBranchCommits(ctx context.Context, dir, base string) (bool, error) {
	_, ref := s.baseRef(ctx, dir, base)
	output, err := s.executor.Output(ctx, dir, "git", "rev-list", "--count", ref+"..HEAD")
	if err != nil {
		return false, fmt.Errorf("git rev-list failed: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return false, fmt.Errorf("unexpected rev-list output %q: %w", string(output), err)
	}
	return n > 0, nil
}
