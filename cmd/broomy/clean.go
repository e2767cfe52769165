package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/logger"
	"github.com/broomy/broomy-core/paths"
	"github.com/broomy/broomy-core/session"
)

var skipConfirm bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove logs and orphaned worktrees",
	Long: `Removes the daemon log, PTY transcripts and worktrees under the worktrees
directory that no session of the current profile uses.

Sessions themselves are kept. The command prompts for confirmation unless
--yes is given.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	profileID, _, err := resolveProfile(s)
	if err != nil {
		return err
	}
	configPath, err := paths.ProfileConfigPath(profileID, s.Dev)
	if err != nil {
		return err
	}
	cfg, err := config.NewStore(configPath, 0).Load()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	svc := session.NewSessionService(session.Options{Config: cfg, ProfileID: profileID, WorktreesDir: s.WorktreesDir})
	return runCleanWithReader(cmd.Context(), svc, os.Stdin, cmd.OutOrStdout())
}

// runCleanWithReader allows injecting a reader for testing
func runCleanWithReader(ctx context.Context, svc *session.SessionService, input io.Reader, out io.Writer) error {
	orphans, err := svc.FindOrphanedWorktrees()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error finding orphaned worktrees: %v\n", err)
	}

	logDir := "the logs directory"
	if dir, err := paths.LogsDir(); err == nil {
		logDir = dir
	}

	fmt.Fprintln(out, "This will clean:")
	if len(orphans) > 0 {
		fmt.Fprintf(out, "  - %d orphaned worktree(s)\n", len(orphans))
		for _, orphan := range orphans {
			fmt.Fprintf(out, "      %s\n", orphan.Path)
		}
	}
	fmt.Fprintf(out, "  - All log files in %s\n", logDir)

	if !skipConfirm {
		if !confirm(input, out, "Continue?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	logsCleared, err := logger.ClearLogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error clearing logs: %v\n", err)
	}

	pruned := 0
	if len(orphans) > 0 {
		pruned, err = svc.PruneOrphanedWorktrees(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error pruning worktrees: %v\n", err)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Cleaned:")
	fmt.Fprintf(out, "  - %d log file(s) removed\n", logsCleared)
	if pruned > 0 {
		fmt.Fprintf(out, "  - %d orphaned worktree(s) pruned\n", pruned)
	}
	return nil
}

// confirm prompts the user for y/n confirmation
func confirm(input io.Reader, out io.Writer, prompt string) bool {
	reader := bufio.NewReader(input)
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
