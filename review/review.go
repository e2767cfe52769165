// Package review persists the AI code-review artifacts of a session under
// the session's .broomy directory and pushes pending comments to GitHub as a
// draft pull request review.
package review

import (
	"fmt"
	"time"
)

// SchemaVersion is the review.json schema written by this package.
const SchemaVersion = 1

// Severity ranks a potential issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityConcern Severity = "concern"
)

// Location points at a range of lines in a file.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// Overview is the summary at the top of a review.
type Overview struct {
	Purpose  string `json:"purpose"`
	Approach string `json:"approach"`
}

// ChangePattern groups related changes across files.
type ChangePattern struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Locations   []Location `json:"locations,omitempty"`
}

// PotentialIssue is something the reviewer thinks may be wrong.
type PotentialIssue struct {
	ID          string     `json:"id"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Locations   []Location `json:"locations,omitempty"`
}

// DesignDecision records a notable choice made by the change.
type DesignDecision struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Alternatives []string   `json:"alternatives,omitempty"`
	Locations    []Location `json:"locations,omitempty"`
}

// RequestedChange is feedback the reviewer asked the author to address.
type RequestedChange struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	File        string    `json:"file,omitempty"`
	Line        int       `json:"line,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// Data is the content of .broomy/review.json.
type Data struct {
	Version          int               `json:"version"`
	GeneratedAt      time.Time         `json:"generatedAt"`
	HeadCommit       string            `json:"headCommit,omitempty"`
	Overview         Overview          `json:"overview"`
	ChangePatterns   []ChangePattern   `json:"changePatterns"`
	PotentialIssues  []PotentialIssue  `json:"potentialIssues"`
	DesignDecisions  []DesignDecision  `json:"designDecisions"`
	RequestedChanges []RequestedChange `json:"requestedChanges,omitempty"`
}

// Validate checks the parts of Data that consumers rely on.
func (d *Data) Validate() error {
	if d.Version < 1 {
		return fmt.Errorf("review version %d is invalid", d.Version)
	}
	if d.Version > SchemaVersion {
		return fmt.Errorf("review version %d is newer than supported version %d", d.Version, SchemaVersion)
	}
	for _, issue := range d.PotentialIssues {
		switch issue.Severity {
		case SeverityInfo, SeverityWarning, SeverityConcern:
		default:
			return fmt.Errorf("potential issue %q has invalid severity %q", issue.ID, issue.Severity)
		}
	}
	return nil
}

func (d *Data) ensureSlices() {
	if d.ChangePatterns == nil {
		d.ChangePatterns = []ChangePattern{}
	}
	if d.PotentialIssues == nil {
		d.PotentialIssues = []PotentialIssue{}
	}
	if d.DesignDecisions == nil {
		d.DesignDecisions = []DesignDecision{}
	}
}

// PendingComment is a line comment written in the review panel that has not
// necessarily been pushed to GitHub yet.
type PendingComment struct {
	ID        string     `json:"id"`
	File      string     `json:"file"`
	Line      int        `json:"line"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"createdAt"`
	PushedAt  *time.Time `json:"pushedAt,omitempty"`
}

// Pushed reports whether the comment has been sent to GitHub.
func (c PendingComment) Pushed() bool {
	return c.PushedAt != nil
}

// HistoryEntry is an archived review.
type HistoryEntry struct {
	HeadCommit       string            `json:"headCommit,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	RequestedChanges []RequestedChange `json:"requestedChanges"`
}

// History is the content of .broomy/review-history.json, newest first.
type History struct {
	Reviews []HistoryEntry `json:"reviews"`
}
