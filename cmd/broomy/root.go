package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/logger"
)

var (
	debugMode    bool
	settingsFile string
	profileFlag  string
	socketFlag   string

	buildVersion, buildCommit, buildDate string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	buildVersion, buildCommit, buildDate = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "broomy",
	Short: "Backend daemon for managing AI coding agent sessions",
	Long: `Broomy runs the backend for the Broomy desktop app. Each session is an
AI coding agent working in its own git worktree; the daemon serves git,
GitHub, filesystem, terminal and config operations to the UI over a local
socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "config", "", "Settings file (default: broomy.yaml in the config dir)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Profile to use (default: the last used profile)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Daemon socket path")
}

func initConfig() {
	if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if buildCommit != "none" && buildCommit != "" {
		return fmt.Sprintf("broomy %s\n  commit: %s\n  built:  %s\n", buildVersion, buildCommit, buildDate)
	}
	return fmt.Sprintf("broomy %s\n", buildVersion)
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings() (config.Settings, error) {
	s, err := config.LoadSettings(settingsFile)
	if err != nil {
		return config.Settings{}, fmt.Errorf("error loading settings: %w", err)
	}
	if profileFlag != "" {
		s.Profile = profileFlag
	}
	if socketFlag != "" {
		s.SocketPath = socketFlag
	}
	if debugMode {
		s.Debug = true
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}
