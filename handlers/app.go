package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/broomy/broomy-core/apperror"
	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/logger"
)

type errorsArgs struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Active    bool   `json:"active,omitempty"` // Hide dismissed entries
}

type copyArgs struct {
	Text string `json:"text"`
}

// AppInfo is the answer of app:info.
type AppInfo struct {
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	ProfileID  string `json:"profileId"`
	ConfigPath string `json:"configPath"`
	LogPath    string `json:"logPath"`
	SocketPath string `json:"socketPath"`
}

func platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func (h *handlers) log() *slog.Logger {
	return logger.WithComponent("handlers")
}

func (h *handlers) registerApp(r *ipc.Router) {
	r.Handle("errors:list", ipc.Typed(func(_ context.Context, a errorsArgs) (any, error) {
		if h.Errors == nil {
			return []any{}, nil
		}
		if a.Active {
			return h.Errors.Active(), nil
		}
		return h.Errors.List(), nil
	}))
	r.Handle("errors:dismiss", ipc.Typed(func(_ context.Context, a errorsArgs) (any, error) {
		if h.Errors == nil {
			return false, nil
		}
		return h.Errors.Dismiss(a.ID), nil
	}))
	r.Handle("errors:clear", ipc.Typed(func(_ context.Context, a errorsArgs) (any, error) {
		if h.Errors == nil {
			return 0, nil
		}
		if a.SessionID != "" {
			return h.Errors.ClearSession(a.SessionID), nil
		}
		n := h.Errors.Len()
		h.Errors.Clear()
		return n, nil
	}))
	r.Handle("errors:reportUrl", ipc.Typed(func(_ context.Context, a errorsArgs) (any, error) {
		if h.Errors == nil {
			return nil, errors.New("error log is not available")
		}
		e, ok := h.Errors.Get(a.ID)
		if !ok {
			return nil, fmt.Errorf("error %s not found", a.ID)
		}
		base := h.Settings.IssueURL
		if base == "" {
			base = config.DefaultIssueURL
		}
		return apperror.ReportIssueURL(base, e, h.Version, platform()), nil
	}))

	r.Handle("app:info", noArgs(func(context.Context) (any, error) {
		return AppInfo{
			Version:    h.Version,
			Platform:   platform(),
			ProfileID:  h.ProfileID,
			ConfigPath: h.Config.FilePath(),
			LogPath:    logger.Path(),
			SocketPath: h.Settings.SocketPath,
		}, nil
	}))
	r.Handle("app:copyText", ipc.Typed(func(_ context.Context, a copyArgs) (any, error) {
		return ipc.Result(h.Clipboard(a.Text)), nil
	}))
}
