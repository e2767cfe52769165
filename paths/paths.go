// Package paths provides centralized path resolution for Broomy's data directories.
//
// Broomy supports the XDG Base Directory Specification for organizing files:
//
//   - Config (XDG_CONFIG_HOME): profiles.json, profiles/<id>/config.json, broomy.yaml
//   - Data (XDG_DATA_HOME): worktrees/ for sessions created by Broomy
//   - State (XDG_STATE_HOME): logs/ and the daemon socket
//
// Resolution order:
//  1. If ~/.broomy/ exists → use the flat layout (all paths under ~/.broomy/)
//  2. If XDG env vars are set → use XDG layout with proper separation
//  3. Fresh install, no XDG vars → default to ~/.broomy/
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// DefaultProfileID is the profile used when none has been selected.
const DefaultProfileID = "default"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

var validProfileID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, ".broomy")

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{configDir: flatDir, dataDir: flatDir, stateDir: flatDir, flat: true}
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, "broomy"),
			dataDir:   filepath.Join(xdgData, "broomy"),
			stateDir:  filepath.Join(xdgState, "broomy"),
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{configDir: flatDir, dataDir: flatDir, stateDir: flatDir, flat: true}
	return resolved, nil
}

// ConfigDir returns the directory for configuration files.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data files.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// SettingsFilePath returns the path of the optional daemon settings file.
func SettingsFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "broomy.yaml"), nil
}

// ProfilesIndexPath returns the path of profiles.json.
func ProfilesIndexPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles.json"), nil
}

// ValidateProfileID rejects IDs that could escape the profiles directory.
func ValidateProfileID(id string) error {
	if !validProfileID.MatchString(id) {
		return fmt.Errorf("invalid profile id %q (use letters, numbers, _ and -)", id)
	}
	return nil
}

// ProfileDir returns the directory holding one profile's files.
func ProfileDir(profileID string) (string, error) {
	if err := ValidateProfileID(profileID); err != nil {
		return "", err
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles", profileID), nil
}

// ProfileConfigPath returns the config file of a profile. Dev builds use a
// separate file so they never clobber the real configuration.
func ProfileConfigPath(profileID string, dev bool) (string, error) {
	dir, err := ProfileDir(profileID)
	if err != nil {
		return "", err
	}
	name := "config.json"
	if dev {
		name = "config.dev.json"
	}
	return filepath.Join(dir, name), nil
}

// InitScriptPath returns where a repo's init script is stored for a profile.
func InitScriptPath(profileID, repoID string) (string, error) {
	if !validProfileID.MatchString(repoID) {
		return "", fmt.Errorf("invalid repo id %q", repoID)
	}
	dir, err := ProfileDir(profileID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "init-scripts", repoID+".sh"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// WorktreesDir returns the directory for worktrees created for sessions.
func WorktreesDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worktrees"), nil
}

// DefaultSocketPath returns the daemon's Unix socket path.
func DefaultSocketPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "broomy.sock"), nil
}

// IsFlatLayout returns true if using the ~/.broomy/ flat layout.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
