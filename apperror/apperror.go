// Package apperror turns raw failure messages from git, gh, the filesystem
// and the network into categorized, user-facing errors, and keeps the capped
// in-memory log that the UI shows as banners.
package apperror

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Category groups errors by the subsystem most likely at fault.
type Category string

const (
	CategoryGit         Category = "git"
	CategoryNetwork     Category = "network"
	CategoryPermissions Category = "permissions"
	CategoryConfig      Category = "config"
	CategoryGitHub      Category = "github"
	CategoryDisk        Category = "disk"
	CategoryUnknown     Category = "unknown"
)

// MaxUnknownMessageLength is the longest message shown verbatim for
// uncategorized errors.
const MaxUnknownMessageLength = 200

// Categorized is the result of Categorize.
type Categorized struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

type rule struct {
	pattern    *regexp.Regexp
	category   Category
	message    string
	suggestion string
}

// Rules are checked in order; the first match wins. More specific patterns
// (merge conflicts, gh auth) come before the broad ones they overlap with.
var rules = []rule{
	{
		pattern:    regexp.MustCompile(`(?i)merge conflict|CONFLICT \(|unmerged files|fix conflicts`),
		category:   CategoryGit,
		message:    "Merge conflicts need to be resolved",
		suggestion: "Resolve the conflicted files, then commit the merge.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)gh auth login|not logged in|gh: .*authentication|HTTP 401|bad credentials`),
		category:   CategoryGitHub,
		message:    "GitHub CLI is not authenticated",
		suggestion: "Run `gh auth login` in a terminal.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)gh: command not found|executable file not found.*\bgh\b|no such file or directory.*\bgh\b`),
		category:   CategoryGitHub,
		message:    "GitHub CLI (gh) is not installed",
		suggestion: "Install it from https://cli.github.com and sign in.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)no pull requests? found|pull request .*not found|HTTP 404|API rate limit|graphql|HTTP 422`),
		category:   CategoryGitHub,
		message:    "GitHub request failed",
		suggestion: "Check that the branch is pushed and you have access to the repository.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)\[rejected\]|non-fast-forward|failed to push some refs|updates were rejected`),
		category:   CategoryGit,
		message:    "Push was rejected by the remote",
		suggestion: "Pull or sync with main first, then push again.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)not a git repository`),
		category:   CategoryGit,
		message:    "This folder is not a git repository",
		suggestion: "Open the repository root or run `git init`.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)already exists|is already checked out|is already used by worktree|invalid reference|pathspec .* did not match|nothing to commit|index\.lock`),
		category:   CategoryGit,
		message:    "Git could not complete the operation",
		suggestion: "",
	},
	{
		pattern:    regexp.MustCompile(`(?i)could not resolve host|network is unreachable|connection (refused|reset|timed out)|timed? ?out|ETIMEDOUT|ECONNREFUSED|ENOTFOUND|unable to access '.*': |no route to host|TLS handshake`),
		category:   CategoryNetwork,
		message:    "Network connection failed",
		suggestion: "Check your internet connection and try again.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)permission denied|EACCES|EPERM|operation not permitted|authentication failed|could not read from remote repository|publickey`),
		category:   CategoryPermissions,
		message:    "Permission denied",
		suggestion: "Check file permissions or your git credentials (SSH key / token).",
	},
	{
		pattern:    regexp.MustCompile(`(?i)no space left|ENOSPC|disk quota|read-only file system|EROFS|file too large|EMFILE|too many open files`),
		category:   CategoryDisk,
		message:    "Disk error",
		suggestion: "Free up disk space or check that the volume is writable.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)invalid config|config(uration)? (file )?(is )?(invalid|corrupt)|unexpected end of JSON|invalid character .* looking for|cannot unmarshal|yaml:|ENOENT.*config|unknown agent|agent .* not found`),
		category:   CategoryConfig,
		message:    "Configuration problem",
		suggestion: "Check your Broomy settings or repository configuration.",
	},
	{
		pattern:    regexp.MustCompile(`(?i)\bgit\b|fatal:|\bbranch\b|\bworktree\b|\bcommit\b`),
		category:   CategoryGit,
		message:    "Git operation failed",
		suggestion: "",
	},
}

// Categorize maps any message to exactly one category. Matched categories
// carry a friendly message; unknown errors keep the raw text, truncated.
func Categorize(msg string) Categorized {
	raw := strings.TrimSpace(msg)
	for _, r := range rules {
		if r.pattern.MatchString(raw) {
			return Categorized{Category: r.category, Message: r.message, Suggestion: r.suggestion}
		}
	}
	if raw == "" {
		raw = "An unknown error occurred"
	}
	return Categorized{Category: CategoryUnknown, Message: Truncate(raw, MaxUnknownMessageLength)}
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
