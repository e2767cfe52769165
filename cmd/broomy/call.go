package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/ipc"
)

var (
	callSession string
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <channel> [json-args]",
	Short: "Invoke a daemon channel and print its result",
	Long: `Sends one request to the running daemon and prints the JSON result.

Example:
  broomy call git:status '{"dir": "/path/to/repo"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callSession, "session", "", "Session the request belongs to")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.AddCommand(callCmd)
}

// dialDaemon connects to the daemon named by the settings.
func dialDaemon() (*ipc.Client, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	client, err := ipc.Dial(s.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon is not running at %s (start it with 'broomy serve'): %w", s.SocketPath, err)
	}
	return client, nil
}

// parseCallArgs validates the optional JSON argument of call.
func parseCallArgs(args []string) (json.RawMessage, error) {
	if len(args) < 2 || args[1] == "" {
		return nil, nil
	}
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", args[1])
	}
	return raw, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	callArgs, err := parseCallArgs(args)
	if err != nil {
		return err
	}
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	var result json.RawMessage
	var callArg any
	if callArgs != nil {
		callArg = callArgs
	}
	if err := client.CallSession(ctx, callSession, args[0], callArg, &result); err != nil {
		var callErr *ipc.CallError
		if errors.As(err, &callErr) && callErr.Suggestion != "" {
			return fmt.Errorf("%w\n\n%s", err, callErr.Suggestion)
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

// printJSON writes raw indented, or "null" for an empty result.
func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
