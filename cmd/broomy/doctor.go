package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/cli"
	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/paths"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check required tools and the daemon",
	Long: `Checks that git and gh are installed, that every configured agent's
command can be found, and whether the daemon is reachable.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := loadSettings()
	if err != nil {
		return err
	}

	prereqs := cli.DefaultPrerequisites()
	profileID, _, err := resolveProfile(s)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	} else if configPath, err := paths.ProfileConfigPath(profileID, s.Dev); err == nil {
		// Read only; the store is never saved here.
		if cfg, err := config.NewStore(configPath, 0).Load(); err == nil {
			prereqs = append(prereqs, cli.AgentPrerequisites(cfg.GetAgents())...)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: error loading config: %v\n", err)
		}
	}

	fmt.Fprint(out, cli.FormatCheckResults(cli.CheckAll(cmd.Context(), prereqs)))
	fmt.Fprintln(out)

	if client, err := ipc.Dial(s.SocketPath); err == nil {
		client.Close()
		fmt.Fprintf(out, "Daemon: running at %s\n", s.SocketPath)
	} else {
		fmt.Fprintf(out, "Daemon: not running (%s)\n", s.SocketPath)
	}
	if profileID != "" {
		fmt.Fprintf(out, "Profile: %s\n", profileID)
	}

	return cli.ValidateRequired(prereqs)
}
