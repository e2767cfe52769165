package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/review"
	"github.com/broomy/broomy-core/session"
)

type addExistingArgs struct {
	Dir     string `json:"dir"`
	AgentID string `json:"agentId,omitempty"`
}

type deleteSessionArgs struct {
	ID string `json:"id"`
	session.DeleteOptions
}

type archiveArgs struct {
	ID       string `json:"id"`
	Archived *bool  `json:"archived,omitempty"` // Defaults to true
}

type togglePanelArgs struct {
	ID    string       `json:"id"`
	Panel config.Panel `json:"panel"`
}

type statusArgs struct {
	ID string `json:"id,omitempty"` // Every session when empty
}

func (h *handlers) registerSessions(r *ipc.Router) {
	r.Handle("sessions:list", noArgs(func(context.Context) (any, error) {
		return h.Config.GetSessions(), nil
	}))
	r.Handle("sessions:create", ipc.Typed(func(ctx context.Context, a session.CreateOptions) (any, error) {
		res, err := h.Sessions.Create(ctx, a)
		if err != nil {
			return nil, err
		}
		h.excludeReviewDir(ctx, res.Session.Directory)
		return res, nil
	}))
	r.Handle("sessions:addExisting", ipc.Typed(func(ctx context.Context, a addExistingArgs) (any, error) {
		return h.Sessions.AddExisting(ctx, a.Dir, a.AgentID)
	}))
	r.Handle("sessions:delete", ipc.Typed(func(ctx context.Context, a deleteSessionArgs) (any, error) {
		if err := h.Sessions.Delete(ctx, a.ID, a.DeleteOptions); err != nil {
			return nil, err
		}
		if h.Errors != nil {
			h.Errors.ClearSession(a.ID)
		}
		return true, nil
	}))
	r.Handle("sessions:archive", ipc.Typed(func(_ context.Context, a archiveArgs) (any, error) {
		if a.Archived != nil && !*a.Archived {
			return true, h.Sessions.Unarchive(a.ID)
		}
		return true, h.Sessions.Archive(a.ID)
	}))
	r.Handle("sessions:togglePanel", ipc.Typed(func(_ context.Context, a togglePanelArgs) (any, error) {
		return h.Sessions.TogglePanel(a.ID, a.Panel)
	}))
	r.Handle("sessions:status", ipc.Typed(func(_ context.Context, a statusArgs) (any, error) {
		if h.Poller == nil {
			return nil, errors.New("session polling is not running")
		}
		if a.ID == "" {
			return h.Poller.All(), nil
		}
		st, ok := h.Poller.Latest(a.ID)
		if !ok {
			if h.Config.GetSession(a.ID) == nil {
				return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, a.ID)
			}
			return nil, nil
		}
		return st, nil
	}))
}

type reviewArgs struct {
	Dir string `json:"dir"`
}

type saveReviewArgs struct {
	Dir    string       `json:"dir"`
	Review *review.Data `json:"review"`
}

type addCommentArgs struct {
	Dir  string `json:"dir"`
	File string `json:"file"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

type deleteCommentArgs struct {
	Dir string `json:"dir"`
	ID  string `json:"id"`
}

func (h *handlers) reviewStore(dir string) (*review.Store, error) {
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	return review.NewStore(dir, h.Git), nil
}

// excludeReviewDir keeps .broomy/ out of git status in dir.
func (h *handlers) excludeReviewDir(ctx context.Context, dir string) {
	if err := review.NewStore(dir, h.Git).EnsureExcluded(ctx); err != nil {
		h.log().Debug("could not exclude review dir", "dir", dir, "error", err)
	}
}

func (h *handlers) registerReview(r *ipc.Router) {
	r.Handle("review:load", ipc.Typed(func(_ context.Context, a reviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return s.LoadReview()
	}))
	r.Handle("review:save", ipc.Typed(func(ctx context.Context, a saveReviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		if a.Review == nil {
			return nil, errors.New("review is required")
		}
		h.excludeReviewDir(ctx, a.Dir)
		return true, s.SaveReview(a.Review)
	}))
	r.Handle("review:comments", ipc.Typed(func(_ context.Context, a reviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return s.LoadComments()
	}))
	r.Handle("review:addComment", ipc.Typed(func(ctx context.Context, a addCommentArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		h.excludeReviewDir(ctx, a.Dir)
		return s.AddComment(a.File, a.Line, a.Body)
	}))
	r.Handle("review:deleteComment", ipc.Typed(func(_ context.Context, a deleteCommentArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return s.DeleteComment(a.ID)
	}))
	r.Handle("review:pushComments", ipc.Typed(func(ctx context.Context, a reviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return s.PushComments(ctx)
	}))
	r.Handle("review:archive", ipc.Typed(func(_ context.Context, a reviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return true, s.ArchiveReview()
	}))
	r.Handle("review:clear", ipc.Typed(func(_ context.Context, a reviewArgs) (any, error) {
		s, err := h.reviewStore(a.Dir)
		if err != nil {
			return nil, err
		}
		return true, s.Clear()
	}))
}
