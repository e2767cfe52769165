package apperror

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxReportURLLength keeps prefilled issue URLs below what browsers and
// GitHub accept.
const MaxReportURLLength = 8000

// ReportIssueURL builds a GitHub "new issue" URL prefilled with the details
// of e. The body is shortened until the whole URL fits MaxReportURLLength.
func ReportIssueURL(base string, e AppError, version, platform string) string {
	title := "Error: " + Truncate(firstLine(e.Message), 80)
	if strings.TrimSpace(e.Message) == "" {
		title = "Error: " + e.DisplayMessage
	}

	details := e.Message
	for {
		u := buildIssueURL(base, title, reportBody(e, details, version, platform))
		if len(u) <= MaxReportURLLength || details == "" {
			return u
		}
		// Shrink the raw details; query escaping can triple their size.
		keep := len([]rune(details)) * 3 / 4
		if keep < 20 {
			details = ""
		} else {
			details = string([]rune(details)[:keep])
		}
	}
}

func buildIssueURL(base, title, body string) string {
	q := url.Values{}
	q.Set("title", title)
	q.Set("body", body)
	q.Set("labels", "bug")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

func reportBody(e AppError, details, version, platform string) string {
	var b strings.Builder
	b.WriteString("## What happened\n\n")
	b.WriteString(e.DisplayMessage)
	b.WriteString("\n\n## Details\n\n")
	fmt.Fprintf(&b, "- Category: %s\n", e.Category)
	fmt.Fprintf(&b, "- Scope: %s\n", e.Scope)
	fmt.Fprintf(&b, "- Time: %s\n", e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Version: %s\n", version)
	fmt.Fprintf(&b, "- Platform: %s\n", platform)
	if details != "" {
		b.WriteString("\n```\n")
		b.WriteString(details)
		if details != e.Message {
			b.WriteString("\n[truncated]")
		}
		b.WriteString("\n```\n")
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
