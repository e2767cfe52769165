package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/terminal"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var attachCmd = &cobra.Command{
	Use:   "attach <pty-id>",
	Short: "Attach this terminal to a daemon PTY",
	Long: `Streams a terminal owned by the daemon into the current terminal.
Press Ctrl-] to detach; the PTY keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// decodePayload converts an event payload decoded as generic JSON into v.
func decodePayload(payload any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// splitDetach returns the input before the detach key and whether the key
// was present.
func splitDetach(data []byte) ([]byte, bool) {
	if i := bytes.IndexByte(data, detachKey); i >= 0 {
		return data[:i], true
	}
	return data, false
}

func runAttach(cmd *cobra.Command, args []string) error {
	id := args[0]
	out := cmd.OutOrStdout()

	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := client.Subscribe(ctx, terminal.DataChannel(id), terminal.ExitChannel(id)); err != nil {
		return err
	}
	var scrollback string
	if err := client.Call(ctx, "pty:scrollback", map[string]string{"id": id}, &scrollback); err != nil {
		return err
	}

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}
	io.WriteString(out, scrollback)

	resize := func() {
		cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return
		}
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		defer rcancel()
		_ = client.Call(rctx, "pty:resize", map[string]any{"id": id, "cols": cols, "rows": rows}, nil)
	}
	resize()
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	detached := make(chan struct{})
	inputErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data, detach := splitDetach(buf[:n])
				if len(data) > 0 {
					if werr := client.Call(ctx, "pty:write", map[string]string{"id": id, "data": string(data)}, nil); werr != nil {
						inputErr <- werr
						return
					}
				}
				if detach {
					close(detached)
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					inputErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-winch:
			resize()
		case <-detached:
			fmt.Fprint(out, "\r\n[detached]\r\n")
			return nil
		case err := <-inputErr:
			return err
		case <-client.Done():
			return ipc.ErrClientClosed
		case ev, ok := <-client.Events():
			if !ok {
				return ipc.ErrClientClosed
			}
			switch ev.Channel {
			case terminal.DataChannel(id):
				var data terminal.DataEvent
				if err := decodePayload(ev.Payload, &data); err == nil {
					io.WriteString(out, data.Data)
				}
			case terminal.ExitChannel(id):
				var exit terminal.ExitEvent
				_ = decodePayload(ev.Payload, &exit)
				fmt.Fprintf(out, "\r\n[process exited with code %d]\r\n", exit.ExitCode)
				return nil
			}
		}
	}
}
