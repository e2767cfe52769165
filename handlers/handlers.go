// Package handlers binds the Broomy services to IPC channels.
//
// Each area registers its channels on an ipc.Router: fs, git, gh, pty, ts,
// config, agents, repos, sessions, review, errors and app. Mutating git and
// file operations answer with an ipc.Envelope so clients can show the
// failure inline; everything else fails the call.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/atotto/clipboard"

	"github.com/broomy/broomy-core/apperror"
	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/files"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/logger"
	"github.com/broomy/broomy-core/session"
	"github.com/broomy/broomy-core/terminal"
)

// Deps are the services the handlers call into.
type Deps struct {
	Config    *config.Config
	Store     *config.Store
	Profiles  *config.Profiles
	ProfileID string
	Settings  config.Settings
	Version   string

	Git       *git.GitService
	Files     *files.Service
	Watcher   *files.Watcher
	Terminals *terminal.Manager
	Sessions  *session.SessionService
	Poller    *session.Poller
	Errors    *apperror.Log

	// Clipboard writes text to the system clipboard. Defaults to
	// clipboard.WriteAll.
	Clipboard func(text string) error
}

type handlers struct {
	Deps
}

// Register adds every channel to r.
func Register(r *ipc.Router, d Deps) {
	if d.Clipboard == nil {
		d.Clipboard = clipboard.WriteAll
	}
	h := &handlers{Deps: d}

	h.registerFS(r)
	h.registerGit(r)
	h.registerGitHub(r)
	h.registerPTY(r)
	h.registerTS(r)
	h.registerConfig(r)
	h.registerSessions(r)
	h.registerReview(r)
	h.registerApp(r)

	logger.WithComponent("handlers").Debug("registered channels", "count", len(r.Channels()))
}

// save schedules a debounced config write.
func (h *handlers) save() error {
	if h.Store == nil {
		return nil
	}
	return h.Store.Save(h.Config)
}

// noArgs adapts a handler that takes no arguments.
func noArgs(fn func(ctx context.Context) (any, error)) ipc.HandlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}
