package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Default layout sizes, in pixels, for new sessions.
const (
	DefaultSidebarWidth       = 224
	DefaultExplorerWidth      = 256
	DefaultFileViewerSize     = 300
	DefaultUserTerminalHeight = 192
	DefaultDiffPanelWidth     = 320
	DefaultReviewPanelWidth   = 320
)

// AgentConfig is a named shell command that starts an AI coding agent.
type AgentConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Color   string            `json:"color,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ManagedRepo is a repository Broomy creates sessions from.
type ManagedRepo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	RemoteURL       string `json:"remoteUrl,omitempty"`
	RootDir         string `json:"rootDir"`
	DefaultBranch   string `json:"defaultBranch"`
	DefaultAgentID  string `json:"defaultAgentId,omitempty"`
	AllowPushToMain bool   `json:"allowPushToMain,omitempty"`
}

// Config holds one profile's configuration
type Config struct {
	Agents          []AgentConfig `json:"agents"`
	Sessions        []Session     `json:"sessions"`
	Repos           []ManagedRepo `json:"repos"`
	ShowSidebar     bool          `json:"showSidebar"`
	SidebarWidth    int           `json:"sidebarWidth,omitempty"`
	Layout          LayoutSizes   `json:"layout"`            // Defaults for new sessions
	DefaultCloneDir string        `json:"defaultCloneDir,omitempty"`
	ToolbarTools    []string      `json:"toolbarTools,omitempty"` // Panel order in the toolbar

	mu       sync.RWMutex
	filePath string
}

// DefaultAgents returns the agents seeded into a fresh profile.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{ID: "claude", Name: "Claude Code", Command: "claude", Color: "#D97757"},
		{ID: "codex", Name: "Codex", Command: "codex", Color: "#10A37F"},
		{ID: "gemini", Name: "Gemini CLI", Command: "gemini", Color: "#4285F4"},
	}
}

// DefaultLayout returns the default layout sizes.
func DefaultLayout() LayoutSizes {
	return LayoutSizes{
		ExplorerWidth:      DefaultExplorerWidth,
		FileViewerSize:     DefaultFileViewerSize,
		UserTerminalHeight: DefaultUserTerminalHeight,
		DiffPanelWidth:     DefaultDiffPanelWidth,
		ReviewPanelWidth:   DefaultReviewPanelWidth,
	}
}

// Default returns the configuration of a fresh profile.
func Default() *Config {
	return &Config{
		Agents:       DefaultAgents(),
		Sessions:     []Session{},
		Repos:        []ManagedRepo{},
		ShowSidebar:  true,
		SidebarWidth: DefaultSidebarWidth,
		Layout:       DefaultLayout(),
	}
}

// Load reads the config at path, or returns Default() if it doesn't exist
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.filePath = path
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse decodes a config document read from path.
func Parse(path string, data []byte) (*Config, error) {
	cfg := &Config{filePath: path}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Must run before Validate(), which only reads.
	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureInitialized fills nil slices and zero layout values after unmarshaling.
// Not thread-safe; only called before the Config is shared.
func (c *Config) ensureInitialized() {
	if c.Agents == nil {
		c.Agents = []AgentConfig{}
	}
	if c.Sessions == nil {
		c.Sessions = []Session{}
	}
	if c.Repos == nil {
		c.Repos = []ManagedRepo{}
	}
	if c.SidebarWidth == 0 {
		c.SidebarWidth = DefaultSidebarWidth
	}
	c.Layout = c.Layout.withDefaults()
	for i := range c.Sessions {
		if c.Sessions[i].Panels == nil {
			c.Sessions[i].Panels = DefaultPanels()
		}
		c.Sessions[i].Layout = c.Sessions[i].Layout.withDefaults()
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seenAgents := make(map[string]bool)
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty ID found")
		}
		if seenAgents[a.ID] {
			return fmt.Errorf("duplicate agent ID: %s", a.ID)
		}
		seenAgents[a.ID] = true
		if a.Command == "" {
			return fmt.Errorf("agent %s has empty command", a.ID)
		}
	}

	seenSessions := make(map[string]bool)
	for _, sess := range c.Sessions {
		if sess.ID == "" {
			return fmt.Errorf("session with empty ID found")
		}
		if seenSessions[sess.ID] {
			return fmt.Errorf("duplicate session ID: %s", sess.ID)
		}
		seenSessions[sess.ID] = true
		if sess.Directory == "" {
			return fmt.Errorf("session %s has empty directory", sess.ID)
		}
		if sess.AgentID != "" && !seenAgents[sess.AgentID] {
			return fmt.Errorf("session %s references unknown agent: %s", sess.ID, sess.AgentID)
		}
	}

	seenRepos := make(map[string]bool)
	for i, r := range c.Repos {
		if r.ID == "" {
			return fmt.Errorf("repo with empty ID found")
		}
		if seenRepos[r.ID] {
			return fmt.Errorf("duplicate repo ID: %s", r.ID)
		}
		seenRepos[r.ID] = true
		if r.RootDir == "" {
			return fmt.Errorf("repo %s has empty root directory", r.ID)
		}
		for j := i + 1; j < len(c.Repos); j++ {
			if SamePath(r.RootDir, c.Repos[j].RootDir) {
				return fmt.Errorf("duplicate repo: %s", r.RootDir)
			}
		}
	}

	return nil
}

// FilePath returns the file the config was loaded from.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path.
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// Snapshot returns a deep copy that can be marshaled without holding the lock.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Config{
		Agents:          make([]AgentConfig, len(c.Agents)),
		Sessions:        make([]Session, len(c.Sessions)),
		Repos:           slices.Clone(c.Repos),
		ShowSidebar:     c.ShowSidebar,
		SidebarWidth:    c.SidebarWidth,
		Layout:          c.Layout,
		DefaultCloneDir: c.DefaultCloneDir,
		ToolbarTools:    slices.Clone(c.ToolbarTools),
		filePath:        c.filePath,
	}
	if out.Repos == nil {
		out.Repos = []ManagedRepo{}
	}
	for i, a := range c.Agents {
		a.Env = maps.Clone(a.Env)
		out.Agents[i] = a
	}
	for i, s := range c.Sessions {
		out.Sessions[i] = s.clone()
	}
	return out
}

// Replace swaps in the persistent fields of other, keeping the file path.
// Used when a client pushes a whole config document.
func (c *Config) Replace(other *Config) {
	snap := other.Snapshot()
	snap.ensureInitialized()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = snap.Agents
	c.Sessions = snap.Sessions
	c.Repos = snap.Repos
	c.ShowSidebar = snap.ShowSidebar
	c.SidebarWidth = snap.SidebarWidth
	c.Layout = snap.Layout
	c.DefaultCloneDir = snap.DefaultCloneDir
	c.ToolbarTools = snap.ToolbarTools
}

// GetAgents returns a copy of the agents slice
func (c *Config) GetAgents() []AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agents := make([]AgentConfig, len(c.Agents))
	for i, a := range c.Agents {
		a.Env = maps.Clone(a.Env)
		agents[i] = a
	}
	return agents
}

// GetAgent returns a copy of the agent with the given ID, or nil.
func (c *Config) GetAgent(id string) *AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, a := range c.Agents {
		if a.ID == id {
			a.Env = maps.Clone(a.Env)
			return &a
		}
	}
	return nil
}

// AddAgent appends an agent, generating an ID when empty.
func (c *Config) AddAgent(agent AgentConfig) (AgentConfig, error) {
	if agent.Name == "" || agent.Command == "" {
		return AgentConfig{}, fmt.Errorf("agent needs a name and a command")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	for _, a := range c.Agents {
		if a.ID == agent.ID {
			return AgentConfig{}, fmt.Errorf("duplicate agent ID: %s", agent.ID)
		}
	}
	agent.Env = maps.Clone(agent.Env)
	c.Agents = append(c.Agents, agent)
	return agent, nil
}

// UpdateAgent replaces the agent with the same ID.
func (c *Config) UpdateAgent(agent AgentConfig) bool {
	if agent.Command == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Agents {
		if c.Agents[i].ID == agent.ID {
			agent.Env = maps.Clone(agent.Env)
			c.Agents[i] = agent
			return true
		}
	}
	return false
}

// RemoveAgent deletes an agent and clears references to it from sessions and repos.
func (c *Config) RemoveAgent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.Agents, func(a AgentConfig) bool { return a.ID == id })
	if idx < 0 {
		return false
	}
	c.Agents = slices.Delete(c.Agents, idx, idx+1)

	for i := range c.Sessions {
		if c.Sessions[i].AgentID == id {
			c.Sessions[i].AgentID = ""
		}
	}
	for i := range c.Repos {
		if c.Repos[i].DefaultAgentID == id {
			c.Repos[i].DefaultAgentID = ""
		}
	}
	return true
}

// GetRepos returns a copy of the repos slice
func (c *Config) GetRepos() []ManagedRepo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Repos)
}

// GetRepo returns a copy of the repo with the given ID, or nil.
func (c *Config) GetRepo(id string) *ManagedRepo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.Repos {
		if r.ID == id {
			return &r
		}
	}
	return nil
}

// FindRepoByDir returns the repo whose root is dir, or nil.
func (c *Config) FindRepoByDir(dir string) *ManagedRepo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.Repos {
		if SamePath(r.RootDir, dir) {
			return &r
		}
	}
	return nil
}

// AddRepo adds a repository if its root isn't already managed.
// The root is resolved to an absolute path before storing.
func (c *Config) AddRepo(repo ManagedRepo) (ManagedRepo, error) {
	if repo.RootDir == "" {
		return ManagedRepo{}, fmt.Errorf("repo root directory is required")
	}
	if abs, err := filepath.Abs(repo.RootDir); err == nil {
		repo.RootDir = abs
	}
	if repo.Name == "" {
		repo.Name = filepath.Base(repo.RootDir)
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = "main"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.Repos {
		if SamePath(r.RootDir, repo.RootDir) {
			return ManagedRepo{}, fmt.Errorf("repo already added: %s", r.RootDir)
		}
	}
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	c.Repos = append(c.Repos, repo)
	return repo, nil
}

// UpdateRepo replaces the repo with the same ID.
func (c *Config) UpdateRepo(repo ManagedRepo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Repos {
		if c.Repos[i].ID == repo.ID {
			c.Repos[i] = repo
			return true
		}
	}
	return false
}

// RemoveRepo removes a repository from the config.
func (c *Config) RemoveRepo(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.Repos, func(r ManagedRepo) bool { return r.ID == id })
	if idx < 0 {
		return false
	}
	c.Repos = slices.Delete(c.Repos, idx, idx+1)
	return true
}

// SetSidebar updates the sidebar visibility and width. A zero width leaves it unchanged.
func (c *Config) SetSidebar(show bool, width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShowSidebar = show
	if width > 0 {
		c.SidebarWidth = width
	}
}

// GetLayout returns the default layout for new sessions.
func (c *Config) GetLayout() LayoutSizes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Layout
}

// SetLayout sets the default layout for new sessions.
func (c *Config) SetLayout(layout LayoutSizes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Layout = layout.withDefaults()
}
