package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestConfig() *Config {
	cfg := Default()
	cfg.Sessions = []Session{
		{ID: "s1", Name: "feature", Directory: "/tmp/wt/feature", Branch: "feature", AgentID: "claude", Panels: DefaultPanels()},
	}
	cfg.Repos = []ManagedRepo{
		{ID: "r1", Name: "repo", RootDir: "/tmp/repo", DefaultBranch: "main", DefaultAgentID: "claude"},
	}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Agents) != 3 {
		t.Fatalf("Default agents = %d, want 3", len(cfg.Agents))
	}
	want := map[string]string{"claude": "claude", "codex": "codex", "gemini": "gemini"}
	for _, a := range cfg.Agents {
		if want[a.ID] != a.Command {
			t.Errorf("agent %q command = %q, want %q", a.ID, a.Command, want[a.ID])
		}
	}
	if cfg.Sessions == nil || cfg.Repos == nil {
		t.Error("Default should initialize slices so they marshal as []")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 3 {
		t.Errorf("missing file should load defaults, got %d agents", len(cfg.Agents))
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"agents":[{"id":"a","name":"A","command":"a"}],
		"sessions":[{"id":"s","directory":"/tmp/s","branch":"x","agentId":"a"}]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repos == nil {
		t.Error("Repos should be initialized")
	}
	sess := cfg.GetSession("s")
	if sess == nil {
		t.Fatal("session s not loaded")
	}
	if !sess.PanelVisible(PanelAgent) {
		t.Error("missing panel visibility should fall back to defaults")
	}
	if sess.Layout.ExplorerWidth != DefaultExplorerWidth {
		t.Errorf("ExplorerWidth = %d, want %d", sess.Layout.ExplorerWidth, DefaultExplorerWidth)
	}
	if cfg.SidebarWidth != DefaultSidebarWidth {
		t.Errorf("SidebarWidth = %d, want %d", cfg.SidebarWidth, DefaultSidebarWidth)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate agent", func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }},
		{"agent without command", func(c *Config) { c.Agents[0].Command = "" }},
		{"empty agent id", func(c *Config) { c.Agents[0].ID = "" }},
		{"duplicate session", func(c *Config) { c.Sessions = append(c.Sessions, c.Sessions[0]) }},
		{"session without directory", func(c *Config) { c.Sessions[0].Directory = "" }},
		{"unknown agent reference", func(c *Config) { c.Sessions[0].AgentID = "missing" }},
		{"duplicate repo id", func(c *Config) { c.Repos = append(c.Repos, c.Repos[0]) }},
		{"duplicate repo dir", func(c *Config) {
			c.Repos = append(c.Repos, ManagedRepo{ID: "r2", Name: "copy", RootDir: "/tmp/repo"})
		}},
		{"repo without root", func(c *Config) { c.Repos[0].RootDir = "" }},
	}

	if err := newTestConfig().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}

func TestAgents_CRUD(t *testing.T) {
	cfg := newTestConfig()

	added, err := cfg.AddAgent(AgentConfig{Name: "Aider", Command: "aider", Env: map[string]string{"K": "V"}})
	if err != nil {
		t.Fatalf("AddAgent: %v", err)
	}
	if added.ID == "" {
		t.Error("AddAgent should generate an ID")
	}
	if _, err := cfg.AddAgent(AgentConfig{Name: "no command"}); err == nil {
		t.Error("AddAgent should reject an agent without command")
	}
	if _, err := cfg.AddAgent(AgentConfig{ID: "claude", Name: "dup", Command: "x"}); err == nil {
		t.Error("AddAgent should reject a duplicate ID")
	}

	added.Command = "aider --yes"
	if !cfg.UpdateAgent(added) {
		t.Error("UpdateAgent should find the agent")
	}
	if got := cfg.GetAgent(added.ID); got == nil || got.Command != "aider --yes" {
		t.Errorf("GetAgent after update = %+v", got)
	}

	// Returned copies must not alias config state.
	agents := cfg.GetAgents()
	agents[len(agents)-1].Env["K"] = "changed"
	if cfg.GetAgent(added.ID).Env["K"] != "V" {
		t.Error("GetAgents should deep-copy Env")
	}
}

func TestRemoveAgent_ClearsReferences(t *testing.T) {
	cfg := newTestConfig()

	if !cfg.RemoveAgent("claude") {
		t.Fatal("RemoveAgent should return true")
	}
	if cfg.RemoveAgent("claude") {
		t.Error("second RemoveAgent should return false")
	}
	if got := cfg.GetSession("s1").AgentID; got != "" {
		t.Errorf("session AgentID = %q, want cleared", got)
	}
	if got := cfg.GetRepo("r1").DefaultAgentID; got != "" {
		t.Errorf("repo DefaultAgentID = %q, want cleared", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config should stay valid: %v", err)
	}
}

func TestAddRepo(t *testing.T) {
	cfg := Default()
	dir := t.TempDir()

	repo, err := cfg.AddRepo(ManagedRepo{RootDir: dir})
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if repo.ID == "" || repo.Name != filepath.Base(dir) || repo.DefaultBranch != "main" {
		t.Errorf("AddRepo filled %+v", repo)
	}

	if _, err := cfg.AddRepo(ManagedRepo{RootDir: dir + "/"}); err == nil {
		t.Error("AddRepo should reject the same directory")
	}

	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.AddRepo(ManagedRepo{RootDir: link}); err == nil {
		t.Error("AddRepo should reject a symlink to a managed repo")
	}

	if got := cfg.FindRepoByDir(link); got == nil || got.ID != repo.ID {
		t.Errorf("FindRepoByDir(link) = %+v", got)
	}
	if !cfg.RemoveRepo(repo.ID) || len(cfg.GetRepos()) != 0 {
		t.Error("RemoveRepo should remove the repo")
	}
}

func TestAddRepo_ResolvesRelativePath(t *testing.T) {
	cfg := Default()
	repo, err := cfg.AddRepo(ManagedRepo{RootDir: "myrepo"})
	if err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if !filepath.IsAbs(repo.RootDir) {
		t.Errorf("RootDir = %q, want absolute", repo.RootDir)
	}
}

func TestSessions(t *testing.T) {
	cfg := newTestConfig()

	if err := cfg.AddSession(Session{ID: "s2", Directory: "/tmp/wt/s2"}); err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	if err := cfg.AddSession(Session{ID: "s2", Directory: "/tmp/other"}); err == nil {
		t.Error("AddSession should reject duplicate IDs")
	}
	s2 := cfg.GetSession("s2")
	if s2.Panels == nil || s2.Layout != DefaultLayout() {
		t.Errorf("AddSession should apply default panels and layout, got %+v", s2)
	}

	if !cfg.RenameSession("s2", "renamed") || cfg.GetSession("s2").Name != "renamed" {
		t.Error("RenameSession failed")
	}
	if got := cfg.FindSessionByDir("/tmp/wt/s2"); got == nil || got.ID != "s2" {
		t.Errorf("FindSessionByDir = %+v", got)
	}
	if !cfg.SetArchived("s2", true) || !cfg.GetSession("s2").IsArchived {
		t.Error("SetArchived failed")
	}
	if !cfg.RemoveSession("s2") || cfg.GetSession("s2") != nil {
		t.Error("RemoveSession failed")
	}
	if cfg.RemoveSession("s2") {
		t.Error("RemoveSession of a missing session should return false")
	}
}

func TestMarkHasHadCommits(t *testing.T) {
	cfg := newTestConfig()

	if !cfg.MarkHasHadCommits("s1") {
		t.Error("first MarkHasHadCommits should report a change")
	}
	if cfg.MarkHasHadCommits("s1") {
		t.Error("second MarkHasHadCommits should report no change")
	}
	if !cfg.GetSession("s1").HasHadCommits {
		t.Error("HasHadCommits should be set")
	}
	if cfg.MarkHasHadCommits("missing") {
		t.Error("unknown session should report no change")
	}
}

func TestSetPRStateAndPush(t *testing.T) {
	cfg := newTestConfig()

	if !cfg.SetPRState("s1", PRStateOpen, 12, "https://github.com/o/r/pull/12") {
		t.Error("SetPRState should report a change")
	}
	if cfg.SetPRState("s1", PRStateOpen, 12, "https://github.com/o/r/pull/12") {
		t.Error("same PR state should report no change")
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg.RecordPushToMain("s1", "abc123", at)
	s := cfg.GetSession("s1")
	if s.PushedToMainCommit != "abc123" || s.PushedToMainAt == nil || !s.PushedToMainAt.Equal(at) {
		t.Errorf("RecordPushToMain stored %+v", s)
	}
}

func TestTogglePanel(t *testing.T) {
	cfg := newTestConfig()

	visible, err := cfg.TogglePanel("s1", PanelExplorer)
	if err != nil {
		t.Fatalf("TogglePanel: %v", err)
	}
	if !visible {
		t.Error("explorer is hidden by default, toggle should show it")
	}
	visible, _ = cfg.TogglePanel("s1", PanelExplorer)
	if visible {
		t.Error("second toggle should hide the explorer")
	}

	if _, err := cfg.TogglePanel("s1", Panel("bogus")); err == nil {
		t.Error("unknown panel should fail")
	}
	if _, err := cfg.TogglePanel("missing", PanelExplorer); err == nil {
		t.Error("unknown session should fail")
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	cfg := newTestConfig()
	at := time.Now()
	cfg.RecordPushToMain("s1", "abc", at)

	snap := cfg.Snapshot()
	snap.Sessions[0].Panels[string(PanelReview)] = true
	*snap.Sessions[0].PushedToMainAt = at.Add(time.Hour)
	snap.Repos[0].Name = "changed"

	s := cfg.GetSession("s1")
	if s.Panels[string(PanelReview)] {
		t.Error("snapshot panels alias the config")
	}
	if !s.PushedToMainAt.Equal(at) {
		t.Error("snapshot PushedToMainAt aliases the config")
	}
	if cfg.GetRepo("r1").Name != "repo" {
		t.Error("snapshot repos alias the config")
	}
}

func TestConfig_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(newTestConfig().Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"agents", "sessions", "repos", "showSidebar", "layout"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("marshaled config missing %q", key)
		}
	}
	sess := raw["sessions"].([]any)[0].(map[string]any)
	for _, key := range []string{"directory", "agentId", "panelVisibility", "layoutSizes"} {
		if _, ok := sess[key]; !ok {
			t.Errorf("marshaled session missing %q", key)
		}
	}
}

func TestConfig_ConcurrentAccess(t *testing.T) {
	cfg := newTestConfig()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			cfg.MarkHasHadCommits("s1")
			_, _ = cfg.TogglePanel("s1", PanelReview)
		}()
		go func() {
			defer wg.Done()
			_ = cfg.Snapshot()
			_ = cfg.GetSessions()
		}()
		go func() {
			defer wg.Done()
			_, _ = cfg.AddAgent(AgentConfig{Name: "agent", Command: "cmd"})
			cfg.SetSidebar(i%2 == 0, 200+i)
		}()
	}
	wg.Wait()

	if len(cfg.GetAgents()) != 13 {
		t.Errorf("agents = %d, want 13", len(cfg.GetAgents()))
	}
}

func TestReplace(t *testing.T) {
	cfg := newTestConfig()
	cfg.SetFilePath("/tmp/config.json")

	other := Default()
	other.ShowSidebar = false
	cfg.Replace(other)

	if len(cfg.GetSessions()) != 0 || cfg.ShowSidebar {
		t.Error("Replace should adopt the other document")
	}
	if cfg.FilePath() != "/tmp/config.json" {
		t.Error("Replace should keep the file path")
	}
}
