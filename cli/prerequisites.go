// Package cli checks the external command-line tools Broomy shells out to.
package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/broomy/broomy-core/config"
	pexec "github.com/broomy/broomy-core/exec"
)

// versionTimeout bounds each version probe; some agents start slowly.
const versionTimeout = 5 * time.Second

// Prerequisite represents a CLI tool the backend runs
type Prerequisite struct {
	Name        string // Command name (e.g., "git", "gh")
	Required    bool   // Whether the daemon refuses to start without it
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// DefaultPrerequisites returns the tools every installation uses: git is
// required, gh only for pull request features.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
		},
		{
			Name:        "gh",
			Required:    false, // Only needed for PR status, comments and reviews
			Description: "GitHub CLI (optional, for pull requests)",
			InstallURL:  "https://cli.github.com",
		},
	}
}

// AgentPrerequisites returns one optional prerequisite per distinct agent
// executable: the first word of each agent command.
func AgentPrerequisites(agents []config.AgentConfig) []Prerequisite {
	seen := make(map[string]bool)
	var out []Prerequisite
	for _, a := range agents {
		fields := strings.Fields(a.Command)
		if len(fields) == 0 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		out = append(out, Prerequisite{
			Name:        fields[0],
			Description: a.Name + " agent",
		})
	}
	return out
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Checker looks tools up in PATH and asks them for their version.
type Checker struct {
	executor pexec.CommandExecutor
	lookPath func(string) (string, error)
}

// NewChecker creates a Checker running real commands.
func NewChecker() *Checker {
	return &Checker{executor: pexec.NewRealExecutor(), lookPath: exec.LookPath}
}

// NewCheckerWithExecutor creates a Checker with a custom executor and PATH
// lookup (for testing).
func NewCheckerWithExecutor(executor pexec.CommandExecutor, lookPath func(string) (string, error)) *Checker {
	return &Checker{executor: executor, lookPath: lookPath}
}

// Check verifies that a CLI tool is available in PATH
func (c *Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.lookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = c.version(ctx, prereq.Name)
	return result
}

// CheckAll verifies all prerequisites and returns results
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = c.Check(ctx, prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met.
// Returns nil if all required tools are found, otherwise an error
// describing what's missing.
func (c *Checker) ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if _, err := c.lookPath(prereq.Name); err != nil {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// version returns the first line of the tool's version output.
func (c *Checker) version(ctx context.Context, name string) string {
	// Different tools use different version flags
	for _, flag := range []string{"--version", "-v", "version"} {
		probeCtx, cancel := context.WithTimeout(ctx, versionTimeout)
		output, err := c.executor.Output(probeCtx, "", name, flag)
		cancel()
		if err != nil {
			continue
		}
		line, _, _ := strings.Cut(string(output), "\n")
		version := strings.TrimSpace(line)
		if version == "" {
			continue
		}
		if len(version) > 100 {
			version = version[:100] + "..."
		}
		return version
	}
	return ""
}

// Check verifies prereq with a real Checker.
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	return NewChecker().Check(ctx, prereq)
}

// CheckAll verifies prereqs with a real Checker.
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	return NewChecker().CheckAll(ctx, prereqs)
}

// ValidateRequired checks the required prereqs with a real Checker.
func ValidateRequired(prereqs []Prerequisite) error {
	return NewChecker().ValidateRequired(prereqs)
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		if !r.Found && r.Prerequisite.InstallURL != "" {
			fmt.Fprintf(&sb, " - %s", r.Prerequisite.InstallURL)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
