package handlers

import (
	"context"
	"fmt"
	"maps"

	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/terminal"
)

type ptyCreateArgs struct {
	terminal.CreateOptions
	SessionID string `json:"sessionId,omitempty"` // Defaults Cwd to the session directory
	Agent     bool   `json:"agent,omitempty"`     // Runs the session's agent command
}

type ptyWriteArgs struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type ptyResizeArgs struct {
	ID   string `json:"id"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

type ptyIDArgs struct {
	ID string `json:"id"`
}

func (h *handlers) registerPTY(r *ipc.Router) {
	r.Handle("pty:create", ipc.Typed(func(_ context.Context, a ptyCreateArgs) (any, error) {
		opts, err := h.ptyOptions(a)
		if err != nil {
			return nil, err
		}
		return h.Terminals.Create(opts)
	}))
	r.Handle("pty:write", ipc.Typed(func(_ context.Context, a ptyWriteArgs) (any, error) {
		if err := h.Terminals.Write(a.ID, []byte(a.Data)); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Handle("pty:resize", ipc.Typed(func(_ context.Context, a ptyResizeArgs) (any, error) {
		if err := h.Terminals.Resize(a.ID, a.Cols, a.Rows); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Handle("pty:kill", ipc.Typed(func(_ context.Context, a ptyIDArgs) (any, error) {
		if err := h.Terminals.Kill(a.ID); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Handle("pty:list", noArgs(func(context.Context) (any, error) {
		return h.Terminals.List(), nil
	}))
	r.Handle("pty:scrollback", ipc.Typed(func(_ context.Context, a ptyIDArgs) (any, error) {
		return h.Terminals.Scrollback(a.ID)
	}))
}

// ptyOptions fills terminal options from the session and its agent.
func (h *handlers) ptyOptions(a ptyCreateArgs) (terminal.CreateOptions, error) {
	opts := a.CreateOptions
	if a.SessionID == "" {
		return opts, nil
	}
	sess := h.Config.GetSession(a.SessionID)
	if sess == nil {
		return opts, fmt.Errorf("session not found: %s", a.SessionID)
	}
	if opts.Cwd == "" {
		opts.Cwd = sess.Directory
	}
	if !a.Agent || sess.AgentID == "" {
		return opts, nil
	}
	agent := h.Config.GetAgent(sess.AgentID)
	if agent == nil {
		return opts, fmt.Errorf("agent %s not found", sess.AgentID)
	}
	if opts.Command == "" {
		opts.Command = agent.Command
	}
	env := maps.Clone(agent.Env)
	if env == nil {
		env = make(map[string]string)
	}
	maps.Copy(env, opts.Env)
	opts.Env = env
	return opts, nil
}
