package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/broomy/broomy-core/paths"
)

func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func TestLoadSettings_Defaults(t *testing.T) {
	home := setupTestHome(t)

	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", s.PollInterval)
	}
	if s.PRPollInterval != time.Minute {
		t.Errorf("PRPollInterval = %v, want 1m", s.PRPollInterval)
	}
	if s.SaveDebounce != 500*time.Millisecond {
		t.Errorf("SaveDebounce = %v, want 500ms", s.SaveDebounce)
	}
	if want := filepath.Join(home, ".broomy", "broomy.sock"); s.SocketPath != want {
		t.Errorf("SocketPath = %q, want %q", s.SocketPath, want)
	}
	if s.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("MaxFileSize = %d, want %d", s.MaxFileSize, DefaultMaxFileSize)
	}
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	setupTestHome(t)
	path := filepath.Join(t.TempDir(), "broomy.yaml")
	doc := "poll_interval: 3s\nprofile: work\ndebug: true\nmax_file_size: 1024\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BROOMY_PROFILE", "env_profile")
	t.Setenv("BROOMY_PR_POLL_INTERVAL", "90s")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v, want 3s from file", s.PollInterval)
	}
	if !s.Debug || s.MaxFileSize != 1024 {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.Profile != "env_profile" {
		t.Errorf("Profile = %q, environment should override the file", s.Profile)
	}
	if s.PRPollInterval != 90*time.Second {
		t.Errorf("PRPollInterval = %v, want 90s from env", s.PRPollInterval)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	setupTestHome(t)
	dir := t.TempDir()

	cases := map[string]string{
		"short poll":   "poll_interval: 10ms\n",
		"pr too fast":  "poll_interval: 5s\npr_poll_interval: 1s\n",
		"bad profile":  "profile: ../x\n",
		"broken yaml":  "poll_interval: [\n",
		"zero maxsize": "max_file_size: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadSettings(path); err == nil {
				t.Error("LoadSettings should fail")
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")

	p, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if p.Last() != paths.DefaultProfileID || len(p.List()) != 1 {
		t.Fatalf("fresh index = %+v, want only the default profile", p.List())
	}

	if err := p.RemoveProfile(paths.DefaultProfileID); err == nil {
		t.Error("removing the last profile should fail")
	}
	if err := p.AddProfile(Profile{ID: "work", Name: "Work"}); err != nil {
		t.Fatalf("AddProfile: %v", err)
	}
	if err := p.AddProfile(Profile{ID: "work"}); err == nil {
		t.Error("duplicate profile should fail")
	}
	if err := p.AddProfile(Profile{ID: "bad/id"}); err == nil {
		t.Error("invalid profile id should fail")
	}
	if err := p.SetLastProfile("work"); err != nil {
		t.Fatalf("SetLastProfile: %v", err)
	}
	if err := p.SetLastProfile("nope"); err == nil {
		t.Error("SetLastProfile of an unknown profile should fail")
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Last() != "work" || loaded.Get("work") == nil {
		t.Errorf("reloaded index = %+v last=%q", loaded.List(), loaded.Last())
	}

	if err := loaded.RemoveProfile("work"); err != nil {
		t.Fatalf("RemoveProfile: %v", err)
	}
	if loaded.Last() != paths.DefaultProfileID {
		t.Errorf("Last after removing the active profile = %q", loaded.Last())
	}
}

func TestLoadRepoSettings(t *testing.T) {
	repo := t.TempDir()

	rs, err := LoadRepoSettings(repo)
	if err != nil || rs != nil {
		t.Fatalf("missing file = (%v, %v), want (nil, nil)", rs, err)
	}

	doc := `default_agent: codex
setup:
  - npm install
  - cp .env.example .env
review:
  instructions: Focus on error handling.
explorer:
  hidden:
    - "*.lock"
    - coverage
`
	if err := os.MkdirAll(filepath.Join(repo, ".broomy"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(RepoSettingsPath(repo), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	rs, err = LoadRepoSettings(repo)
	if err != nil {
		t.Fatalf("LoadRepoSettings: %v", err)
	}
	if rs.DefaultAgent != "codex" || len(rs.Setup) != 2 || rs.Review.Instructions == "" {
		t.Errorf("parsed %+v", rs)
	}
	if !rs.IsHidden("yarn.lock") || !rs.IsHidden("coverage") || rs.IsHidden("main.go") {
		t.Error("IsHidden does not match the configured globs")
	}

	rs.Setup = append(rs.Setup, "make")
	if err := SaveRepoSettings(repo, rs); err != nil {
		t.Fatalf("SaveRepoSettings: %v", err)
	}
	again, err := LoadRepoSettings(repo)
	if err != nil || len(again.Setup) != 3 {
		t.Errorf("reload = (%+v, %v)", again, err)
	}
}

func TestLoadRepoSettings_Invalid(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, ".broomy"), 0755); err != nil {
		t.Fatal(err)
	}

	for name, doc := range map[string]string{
		"empty setup command": "setup:\n  - \"  \"\n",
		"bad glob":            "explorer:\n  hidden:\n    - \"[\"\n",
		"not yaml":            "setup: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(RepoSettingsPath(repo), []byte(doc), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRepoSettings(repo); err == nil {
				t.Error("LoadRepoSettings should fail")
			}
		})
	}

	var nilSettings *RepoSettings
	if nilSettings.IsHidden("anything") {
		t.Error("nil settings hide nothing")
	}
}
