package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/broomy/broomy-core/config"
	pexec "github.com/broomy/broomy-core/exec"
)

var ctx = context.Background()

func fakeLookPath(found ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, f := range found {
			if f == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestDefaultPrerequisites(t *testing.T) {
	prereqs := DefaultPrerequisites()

	byName := make(map[string]Prerequisite)
	for _, p := range prereqs {
		byName[p.Name] = p
	}
	if git, ok := byName["git"]; !ok || !git.Required {
		t.Error("git should be a required prerequisite")
	}
	if gh, ok := byName["gh"]; !ok || gh.Required {
		t.Error("gh should be an optional prerequisite")
	}
}

func TestAgentPrerequisites(t *testing.T) {
	agents := []config.AgentConfig{
		{Name: "Claude", Command: "claude"},
		{Name: "Claude YOLO", Command: "claude --dangerously-skip-permissions"},
		{Name: "Codex", Command: "  codex  --full-auto"},
		{Name: "Broken", Command: "   "},
	}

	prereqs := AgentPrerequisites(agents)
	if len(prereqs) != 2 {
		t.Fatalf("got %d prerequisites, want 2: %+v", len(prereqs), prereqs)
	}
	if prereqs[0].Name != "claude" || prereqs[1].Name != "codex" {
		t.Errorf("unexpected names: %+v", prereqs)
	}
	for _, p := range prereqs {
		if p.Required {
			t.Errorf("agent %q should be optional", p.Name)
		}
	}
}

func TestCheck_Found(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"--version"}, pexec.MockResponse{Stdout: []byte("git version 2.45.0\nextra\n")})
	c := NewCheckerWithExecutor(mock, fakeLookPath("git"))

	result := c.Check(ctx, Prerequisite{Name: "git", Required: true})
	if !result.Found || result.Path != "/usr/bin/git" || result.Error != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Version != "git version 2.45.0" {
		t.Errorf("Version = %q", result.Version)
	}
}

func TestCheck_VersionFallsBackToOtherFlags(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddExactMatch("tool", []string{"--version"}, pexec.MockResponse{Err: errors.New("unknown flag")})
	mock.AddExactMatch("tool", []string{"-v"}, pexec.MockResponse{Stdout: []byte("tool 0.3\n")})
	c := NewCheckerWithExecutor(mock, fakeLookPath("tool"))

	if v := c.Check(ctx, Prerequisite{Name: "tool"}).Version; v != "tool 0.3" {
		t.Errorf("Version = %q, want tool 0.3", v)
	}
}

func TestCheck_NotFound(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	c := NewCheckerWithExecutor(mock, fakeLookPath())

	result := c.Check(ctx, Prerequisite{Name: "gh"})
	if result.Found || result.Path != "" || result.Error == nil {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("a missing tool must not be run")
	}
}

func TestCheckAll(t *testing.T) {
	c := NewCheckerWithExecutor(pexec.NewMockExecutor(nil), fakeLookPath("git"))

	results := c.CheckAll(ctx, []Prerequisite{{Name: "git"}, {Name: "gh"}})
	if len(results) != 2 {
		t.Fatalf("CheckAll returned %d results, want 2", len(results))
	}
	if !results[0].Found || results[1].Found {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestValidateRequired(t *testing.T) {
	c := NewCheckerWithExecutor(pexec.NewMockExecutor(nil), fakeLookPath("git"))

	if err := c.ValidateRequired([]Prerequisite{{Name: "git", Required: true}, {Name: "gh"}}); err != nil {
		t.Errorf("missing optional tools must not fail: %v", err)
	}

	err := c.ValidateRequired([]Prerequisite{
		{Name: "git", Required: true},
		{Name: "fake-required", Required: true, Description: "Fake", InstallURL: "http://example.com"},
	})
	if err == nil {
		t.Fatal("ValidateRequired should fail when a required tool is missing")
	}
	if !strings.Contains(err.Error(), "fake-required") || !strings.Contains(err.Error(), "http://example.com") {
		t.Errorf("error should name the tool and where to get it: %v", err)
	}
}

func TestCheck_RealCommand(t *testing.T) {
	result := Check(ctx, Prerequisite{Name: "definitely-not-a-real-command-12345"})
	if result.Found {
		t.Error("Check should return Found=false for non-existing command")
	}
}

func TestFormatCheckResults(t *testing.T) {
	results := []CheckResult{
		{
			Prerequisite: Prerequisite{Name: "found-cmd", Required: true},
			Found:        true,
			Path:         "/usr/bin/found-cmd",
			Version:      "1.0.0",
		},
		{
			Prerequisite: Prerequisite{Name: "missing-required", Required: true, InstallURL: "https://git-scm.com"},
		},
		{
			Prerequisite: Prerequisite{Name: "missing-optional"},
		},
	}

	output := FormatCheckResults(results)

	for _, want := range []string{
		"CLI Prerequisites",
		"✓ found-cmd (1.0.0)",
		"✗ missing-required [REQUIRED] - https://git-scm.com",
		"○ missing-optional [optional]",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}
