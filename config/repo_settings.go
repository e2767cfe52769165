package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	repoSettingsDir  = ".broomy"
	repoSettingsFile = "repo.yaml"
)

// RepoSettings are per-repository options checked into .broomy/repo.yaml.
type RepoSettings struct {
	DefaultAgent string         `yaml:"default_agent,omitempty" json:"defaultAgent,omitempty"`
	Setup        []string       `yaml:"setup,omitempty" json:"setup,omitempty"` // Shell commands run in new worktrees
	Review       ReviewSettings `yaml:"review,omitempty" json:"review"`
	Explorer     ExplorerConfig `yaml:"explorer,omitempty" json:"explorer"`
}

// ReviewSettings configures the review panel.
type ReviewSettings struct {
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// ExplorerConfig configures the file explorer.
type ExplorerConfig struct {
	Hidden []string `yaml:"hidden,omitempty" json:"hidden,omitempty"` // filepath.Match globs
}

// RepoSettingsPath returns the settings file of the repo rooted at repoPath.
func RepoSettingsPath(repoPath string) string {
	return filepath.Join(repoPath, repoSettingsDir, repoSettingsFile)
}

// LoadRepoSettings reads .broomy/repo.yaml from the given repo path.
// Returns nil, nil if the file does not exist.
func LoadRepoSettings(repoPath string) (*RepoSettings, error) {
	data, err := os.ReadFile(RepoSettingsPath(repoPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read repo settings: %w", err)
	}

	var rs RepoSettings
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse repo settings: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the settings for obviously broken values.
func (rs *RepoSettings) Validate() error {
	for i, cmd := range rs.Setup {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("setup[%d]: empty command", i)
		}
	}
	for _, pattern := range rs.Explorer.Hidden {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("explorer.hidden: bad pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// IsHidden reports whether a file name matches one of the hidden globs.
func (rs *RepoSettings) IsHidden(name string) bool {
	if rs == nil {
		return false
	}
	for _, pattern := range rs.Explorer.Hidden {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// SaveRepoSettings writes rs to .broomy/repo.yaml.
func SaveRepoSettings(repoPath string, rs *RepoSettings) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to marshal repo settings: %w", err)
	}
	return WriteFileAtomic(RepoSettingsPath(repoPath), data, 0o644)
}
