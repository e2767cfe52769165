package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/session"
)

var showArchived bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List sessions with their branch status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&showArchived, "all", "a", false, "Include archived sessions")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var sessions []config.Session
	if err := client.Call(ctx, "sessions:list", nil, &sessions); err != nil {
		return err
	}
	var statuses []session.SessionStatus
	if err := client.Call(ctx, "sessions:status", nil, &statuses); err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), sessions, statuses, showArchived)
}

// printStatus renders one row per session. Sessions the poller has not
// reached yet show their persisted status.
func printStatus(w io.Writer, sessions []config.Session, statuses []session.SessionStatus, archived bool) error {
	byID := make(map[string]session.SessionStatus, len(statuses))
	for _, st := range statuses {
		byID[st.SessionID] = st
	}

	var visible []config.Session
	for _, s := range sessions {
		if !s.IsArchived || archived {
			visible = append(visible, s)
		}
	}
	if len(visible) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBRANCH\tSTATUS\tCHANGES\tPR\tDIRECTORY")
	for _, s := range visible {
		status, changes, pr := s.Status, "-", "-"
		if st, ok := byID[s.ID]; ok {
			status = string(st.BranchStatus)
			if st.Git != nil {
				changes = fmt.Sprintf("%d", st.Git.UncommittedCount())
				if st.Git.Ahead > 0 {
					changes += fmt.Sprintf(" +%d", st.Git.Ahead)
				}
			}
			if st.Error != "" {
				status = "error"
			}
		}
		if s.PRNumber > 0 {
			pr = fmt.Sprintf("#%d %s", s.PRNumber, s.LastKnownPRState)
		}
		if s.IsArchived {
			status += " (archived)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Name, s.Branch, status, changes, pr, s.Directory)
	}
	return tw.Flush()
}
