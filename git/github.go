package git

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/broomy/broomy-core/logger"
)

// PRState represents the state of a GitHub pull request
type PRState string

const (
	PRStateOpen    PRState = "OPEN"
	PRStateMerged  PRState = "MERGED"
	PRStateClosed  PRState = "CLOSED"
	PRStateUnknown PRState = ""
)

func normalizePRState(state string) PRState {
	switch PRState(state) {
	case PRStateOpen, PRStateMerged, PRStateClosed:
		return PRState(state)
	default:
		// Treat unrecognized states (e.g., DRAFT) as OPEN
		return PRStateOpen
	}
}

// GitHubIssue represents a GitHub issue fetched via the gh CLI
type GitHubIssue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Labels []string `json:"labels"`
}

// PRInfo describes the pull request of the current branch.
type PRInfo struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	State       PRState `json:"state"`
	URL         string  `json:"url"`
	HeadRefName string  `json:"headRefName"`
	BaseRefName string  `json:"baseRefName"`
	IsDraft     bool    `json:"isDraft"`
}

// PRSummary is a pull request awaiting the user's review.
type PRSummary struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	URL         string `json:"url"`
	HeadRefName string `json:"headRefName"`
	BaseRefName string `json:"baseRefName"`
}

// PRComment is an inline review comment on a pull request.
type PRComment struct {
	ID          int64     `json:"id"`
	Body        string    `json:"body"`
	Path        string    `json:"path"`
	Line        int       `json:"line,omitempty"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
	URL         string    `json:"url"`
	InReplyToID int64     `json:"inReplyToId,omitempty"`
}

// DraftComment is a line comment submitted as part of a draft review.
type DraftComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// CIStatus represents the CI check status of a PR
type CIStatus string

const (
	CIStatusPassing CIStatus = "passing"
	CIStatusFailing CIStatus = "failing"
	CIStatusPending CIStatus = "pending"
	CIStatusNone    CIStatus = "none" // No checks configured
)

// IsGhInstalled reports whether the gh CLI can be run.
func (s *GitService) IsGhInstalled(ctx context.Context) bool {
	_, _, err := s.executor.Run(ctx, "", "gh", "--version")
	return err == nil
}

// RepoSlug returns "owner/repo" for the repository at dir, asking gh first
// and falling back to parsing the origin URL.
func (s *GitService) RepoSlug(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "gh", "repo", "view", "--json", "nameWithOwner", "-q", ".nameWithOwner")
	if err == nil {
		if slug := strings.TrimSpace(string(output)); slug != "" {
			return slug
		}
	}
	remote, err := s.GetRemoteURL(ctx, dir)
	if err != nil {
		return ""
	}
	return ExtractOwnerRepo(remote)
}

// ListIssues returns open issues assigned to the current user. Any failure
// yields an empty list.
func (s *GitService) ListIssues(ctx context.Context, dir string) []GitHubIssue {
	issues := []GitHubIssue{}
	output, err := s.executor.Output(ctx, dir, "gh", "issue", "list",
		"--assignee", "@me",
		"--state", "open",
		"--json", "number,title,url,labels",
		"--limit", "50",
	)
	if err != nil {
		logger.WithComponent("github").Warn("gh issue list failed", "dir", dir, "error", err)
		return issues
	}

	var raw []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		logger.WithComponent("github").Warn("failed to parse issues", "dir", dir, "error", err)
		return issues
	}
	for _, r := range raw {
		labels := make([]string, 0, len(r.Labels))
		for _, l := range r.Labels {
			labels = append(labels, l.Name)
		}
		issues = append(issues, GitHubIssue{Number: r.Number, Title: r.Title, URL: r.URL, Labels: labels})
	}
	return issues
}

// PRStatus returns the pull request of the branch checked out in dir, or
// nil when there is none or gh cannot tell.
func (s *GitService) PRStatus(ctx context.Context, dir string) *PRInfo {
	output, err := s.executor.Output(ctx, dir, "gh", "pr", "view",
		"--json", "number,title,state,url,headRefName,baseRefName,isDraft")
	if err != nil {
		// "no pull requests found" is the common case and not worth a warning.
		logger.WithComponent("github").Debug("gh pr view failed", "dir", dir, "error", err)
		return nil
	}

	var raw struct {
		PRInfo
		State string `json:"state"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		logger.WithComponent("github").Warn("failed to parse PR", "dir", dir, "error", err)
		return nil
	}
	info := raw.PRInfo
	info.State = normalizePRState(raw.State)
	return &info
}

// GetPRState returns the state of a PR for the given branch using the gh CLI.
// Returns PRStateUnknown and an error if the PR cannot be found or gh fails.
func (s *GitService) GetPRState(ctx context.Context, repoPath, branch string) (PRState, error) {
	output, err := s.executor.Output(ctx, repoPath, "gh", "pr", "view", branch, "--json", "state")
	if err != nil {
		return PRStateUnknown, fmt.Errorf("gh pr view failed: %w", err)
	}

	var result struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return PRStateUnknown, fmt.Errorf("failed to parse PR state: %w", err)
	}
	return normalizePRState(result.State), nil
}

// BatchPR is the PR data of one branch from a batch query.
type BatchPR struct {
	State  PRState `json:"state"`
	Number int     `json:"number"`
	URL    string  `json:"url"`
}

// GetBatchPRStates returns the PRs of multiple branches in a single gh CLI call.
// It uses `gh pr list --state all` to fetch all PRs for the repo, then matches by branch name.
// Branches without a matching PR are omitted from the result map; when a
// branch has several PRs the open one wins, else the most recent.
func (s *GitService) GetBatchPRStates(ctx context.Context, repoPath string, branches []string) (map[string]BatchPR, error) {
	output, err := s.executor.Output(ctx, repoPath, "gh", "pr", "list",
		"--state", "all",
		"--json", "state,headRefName,number,url",
		"--limit", "200",
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr list failed: %w", err)
	}

	var prs []struct {
		State       string `json:"state"`
		HeadRefName string `json:"headRefName"`
		Number      int    `json:"number"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(output, &prs); err != nil {
		return nil, fmt.Errorf("failed to parse PR list: %w", err)
	}

	// Build a lookup set for the branches we care about
	branchSet := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		branchSet[b] = struct{}{}
	}

	// gh lists newest first, so the first PR seen for a branch is the latest.
	result := make(map[string]BatchPR, len(branches))
	for _, pr := range prs {
		if _, ok := branchSet[pr.HeadRefName]; !ok {
			continue
		}
		state := normalizePRState(pr.State)
		if existing, seen := result[pr.HeadRefName]; seen && (existing.State == PRStateOpen || state != PRStateOpen) {
			continue
		}
		result[pr.HeadRefName] = BatchPR{State: state, Number: pr.Number, URL: pr.URL}
	}
	return result, nil
}

// HasWriteAccess reports whether the current user can push to the repository.
func (s *GitService) HasWriteAccess(ctx context.Context, dir string) bool {
	output, err := s.executor.Output(ctx, dir, "gh", "repo", "view", "--json", "viewerPermission", "-q", ".viewerPermission")
	if err != nil {
		return false
	}
	switch strings.TrimSpace(string(output)) {
	case "ADMIN", "MAINTAIN", "WRITE":
		return true
	}
	return false
}

// MergeBranchToMain pushes HEAD straight to the default branch on origin and
// returns the pushed commit, which callers record to detect the merge later.
func (s *GitService) MergeBranchToMain(ctx context.Context, dir string) (string, error) {
	base := s.GetDefaultBranch(ctx, dir)
	commit, err := s.HeadCommit(ctx, dir)
	if err != nil {
		return "", err
	}

	output, err := s.executor.CombinedOutput(ctx, dir, "git", "push", "origin", "HEAD:refs/heads/"+base)
	if err != nil {
		return "", fmt.Errorf("git push to %s failed: %s: %w", base, strings.TrimSpace(string(output)), err)
	}

	logger.WithComponent("git").Info("pushed branch to default branch", "dir", dir, "base", base, "commit", commit)
	return commit, nil
}

// PRCreateURL returns the GitHub compare page that opens a new pull request
// for branch against the default branch.
func (s *GitService) PRCreateURL(ctx context.Context, dir, branch string) (string, error) {
	slug := s.RepoSlug(ctx, dir)
	if slug == "" {
		return "", fmt.Errorf("could not determine the GitHub repository for %s", dir)
	}
	if branch == "" {
		var err error
		if branch, err = s.GetCurrentBranch(ctx, dir); err != nil {
			return "", err
		}
	}
	base := s.GetDefaultBranch(ctx, dir)
	return fmt.Sprintf("https://github.com/%s/compare/%s...%s?expand=1",
		slug, url.PathEscape(base), url.PathEscape(branch)), nil
}

// PRComments returns the inline review comments of PR number.
func (s *GitService) PRComments(ctx context.Context, dir string, number int) ([]PRComment, error) {
	output, err := s.executor.Output(ctx, dir, "gh", "api", "--paginate",
		fmt.Sprintf("repos/{owner}/{repo}/pulls/%d/comments", number))
	if err != nil {
		return nil, fmt.Errorf("gh api pulls/%d/comments failed: %w", number, err)
	}

	var raw []struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		Path      string    `json:"path"`
		Line      int       `json:"line"`
		CreatedAt time.Time `json:"created_at"`
		HTMLURL   string    `json:"html_url"`
		InReplyTo int64     `json:"in_reply_to_id"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse PR comments: %w", err)
	}

	comments := make([]PRComment, 0, len(raw))
	for _, c := range raw {
		comments = append(comments, PRComment{
			ID:          c.ID,
			Body:        c.Body,
			Path:        c.Path,
			Line:        c.Line,
			Author:      c.User.Login,
			CreatedAt:   c.CreatedAt,
			URL:         c.HTMLURL,
			InReplyToID: c.InReplyTo,
		})
	}
	return comments, nil
}

// ReplyToComment answers an inline review comment.
func (s *GitService) ReplyToComment(ctx context.Context, dir string, number int, commentID int64, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("reply body cannot be empty")
	}
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	_, stderr, err := s.executor.RunWithInput(ctx, dir, payload, "gh", "api", "--method", "POST",
		fmt.Sprintf("repos/{owner}/{repo}/pulls/%d/comments/%d/replies", number, commentID),
		"--input", "-")
	if err != nil {
		return fmt.Errorf("gh api reply failed: %s: %w", strings.TrimSpace(string(stderr)), err)
	}
	return nil
}

// PRsToReview lists open pull requests that request the user's review.
func (s *GitService) PRsToReview(ctx context.Context, dir string) ([]PRSummary, error) {
	output, err := s.executor.Output(ctx, dir, "gh", "pr", "list",
		"--search", "review-requested:@me",
		"--state", "open",
		"--json", "number,title,author,url,headRefName,baseRefName",
	)
	if err != nil {
		return nil, fmt.Errorf("gh pr list failed: %w", err)
	}

	var raw []struct {
		PRSummary
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
	}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse PR list: %w", err)
	}
	prs := make([]PRSummary, 0, len(raw))
	for _, r := range raw {
		pr := r.PRSummary
		pr.Author = r.Author.Login
		prs = append(prs, pr)
	}
	return prs, nil
}

// SubmitDraftReview creates a pending (draft) review on PR number holding
// comments. The review stays invisible to others until the user submits it
// on GitHub. Returns the review's HTML URL.
func (s *GitService) SubmitDraftReview(ctx context.Context, dir string, number int, comments []DraftComment) (string, error) {
	if len(comments) == 0 {
		return "", fmt.Errorf("no comments to submit")
	}
	type reviewComment struct {
		Path string `json:"path"`
		Line int    `json:"line"`
		Side string `json:"side"`
		Body string `json:"body"`
	}
	body := struct {
		Comments []reviewComment `json:"comments"`
	}{}
	for _, c := range comments {
		body.Comments = append(body.Comments, reviewComment{Path: c.Path, Line: c.Line, Side: "RIGHT", Body: c.Body})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	stdout, stderr, err := s.executor.RunWithInput(ctx, dir, payload, "gh", "api", "--method", "POST",
		fmt.Sprintf("repos/{owner}/{repo}/pulls/%d/reviews", number),
		"--input", "-")
	if err != nil {
		return "", fmt.Errorf("gh api create review failed: %s: %w", strings.TrimSpace(string(stderr)), err)
	}

	var resp struct {
		HTMLURL string `json:"html_url"`
	}
	_ = json.Unmarshal(stdout, &resp)
	logger.WithComponent("github").Info("created draft review", "dir", dir, "pr", number, "comments", len(comments))
	return resp.HTMLURL, nil
}

// CheckPRChecks checks the CI status of a PR for the given branch.
// gh pr checks exits non-zero when checks fail or are pending, so the JSON
// output is inspected either way.
func (s *GitService) CheckPRChecks(ctx context.Context, repoPath, branch string) (CIStatus, error) {
	args := []string{"pr", "checks"}
	if branch != "" {
		args = append(args, branch)
	}
	args = append(args, "--json", "state")
	output, err := s.executor.Output(ctx, repoPath, "gh", args...)

	var checks []struct {
		State string `json:"state"`
	}
	if len(output) == 0 || json.Unmarshal(output, &checks) != nil {
		if err != nil {
			// Without output (network error, no PR) there is nothing to classify.
			return CIStatusPending, fmt.Errorf("gh pr checks failed with no output: %w", err)
		}
		return CIStatusNone, nil
	}
	if len(checks) == 0 {
		return CIStatusNone, nil
	}

	hasPending := false
	for _, c := range checks {
		switch c.State {
		case "FAILURE", "ERROR", "CANCELLED", "TIMED_OUT", "ACTION_REQUIRED":
			return CIStatusFailing, nil
		case "PENDING", "QUEUED", "IN_PROGRESS", "WAITING", "REQUESTED":
			hasPending = true
		}
	}
	if hasPending {
		return CIStatusPending, nil
	}
	return CIStatusPassing, nil
}
