package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/broomy/broomy-core/paths"
)

// Settings are the daemon's own options, read from broomy.yaml and
// BROOMY_* environment variables. Profile data lives in Config instead.
type Settings struct {
	SocketPath     string        `mapstructure:"socket_path"`
	Profile        string        `mapstructure:"profile"`
	Dev            bool          `mapstructure:"dev"`
	Debug          bool          `mapstructure:"debug"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PRPollInterval time.Duration `mapstructure:"pr_poll_interval"`
	SaveDebounce   time.Duration `mapstructure:"save_debounce"`
	IssueURL       string        `mapstructure:"issue_url"`
	MaxFileSize    int64         `mapstructure:"max_file_size"`
	PTYShell       string        `mapstructure:"pty_shell"`
	WorktreesDir   string        `mapstructure:"worktrees_dir"`
}

// Setting defaults.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultPRPollInterval = 60 * time.Second
	DefaultMaxFileSize    = 5 * 1024 * 1024
	DefaultIssueURL       = "https://github.com/broomy/broomy/issues/new"
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() (Settings, error) {
	socket, err := paths.DefaultSocketPath()
	if err != nil {
		return Settings{}, err
	}
	worktrees, err := paths.WorktreesDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		SocketPath:     socket,
		Profile:        "",
		PollInterval:   DefaultPollInterval,
		PRPollInterval: DefaultPRPollInterval,
		SaveDebounce:   DefaultSaveDebounce,
		IssueURL:       DefaultIssueURL,
		MaxFileSize:    DefaultMaxFileSize,
		WorktreesDir:   worktrees,
	}, nil
}

// LoadSettings reads settings from path. An empty path uses broomy.yaml in
// the config dir; a missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		defaultPath, err := paths.SettingsFilePath()
		if err != nil {
			return Settings{}, err
		}
		path = defaultPath
	}

	def, err := DefaultSettings()
	if err != nil {
		return Settings{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BROOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("socket_path", def.SocketPath)
	v.SetDefault("profile", def.Profile)
	v.SetDefault("dev", def.Dev)
	v.SetDefault("debug", def.Debug)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("pr_poll_interval", def.PRPollInterval)
	v.SetDefault("save_debounce", def.SaveDebounce)
	v.SetDefault("issue_url", def.IssueURL)
	v.SetDefault("max_file_size", def.MaxFileSize)
	v.SetDefault("pty_shell", def.PTYShell)
	v.SetDefault("worktrees_dir", def.WorktreesDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// SetConfigFile reports a missing file as a plain *fs.PathError.
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the daemon cannot run with.
func (s Settings) Validate() error {
	if s.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if s.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 100ms, got %s", s.PollInterval)
	}
	if s.PRPollInterval < s.PollInterval {
		return fmt.Errorf("pr_poll_interval (%s) must not be shorter than poll_interval (%s)", s.PRPollInterval, s.PollInterval)
	}
	if s.SaveDebounce < 0 {
		return fmt.Errorf("save_debounce must not be negative")
	}
	if s.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if s.Profile != "" {
		if err := paths.ValidateProfileID(s.Profile); err != nil {
			return err
		}
	}
	return nil
}
