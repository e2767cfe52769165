package handlers

import (
	"context"
	"time"

	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/logger"
)

type prArgs struct {
	Dir    string `json:"dir"`
	Number int    `json:"number"`
}

type replyArgs struct {
	Dir       string `json:"dir"`
	Number    int    `json:"number"`
	CommentID int64  `json:"commentId"`
	Body      string `json:"body"`
}

type draftReviewArgs struct {
	Dir      string             `json:"dir"`
	Number   int                `json:"number"`
	Comments []git.DraftComment `json:"comments"`
}

type mergeToMainArgs struct {
	Dir       string `json:"dir"`
	SessionID string `json:"sessionId,omitempty"` // Records the pushed commit on the session
}

// mergeToMainResult is an envelope carrying the pushed commit.
type mergeToMainResult struct {
	ipc.Envelope
	Commit string `json:"commit,omitempty"`
}

func (h *handlers) registerGitHub(r *ipc.Router) {
	r.Handle("gh:isInstalled", noArgs(func(ctx context.Context) (any, error) {
		return h.Git.IsGhInstalled(ctx), nil
	}))
	r.Handle("gh:repoSlug", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.RepoSlug(ctx, a.Dir), nil
	}))
	r.Handle("gh:issues", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.ListIssues(ctx, a.Dir), nil
	}))
	r.Handle("gh:prStatus", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.PRStatus(ctx, a.Dir), nil
	}))
	r.Handle("gh:hasWriteAccess", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.HasWriteAccess(ctx, a.Dir), nil
	}))
	r.Handle("gh:mergeBranchToMain", ipc.Typed(func(ctx context.Context, a mergeToMainArgs) (any, error) {
		commit, err := h.Git.MergeBranchToMain(ctx, a.Dir)
		if err != nil {
			return mergeToMainResult{Envelope: ipc.Result(err)}, nil
		}
		if a.SessionID != "" && h.Config.RecordPushToMain(a.SessionID, commit, time.Now()) {
			if err := h.save(); err != nil {
				logger.WithSession(a.SessionID).Warn("failed to save pushed commit", "error", err)
			}
		}
		return mergeToMainResult{Envelope: ipc.Result(nil), Commit: commit}, nil
	}))
	r.Handle("gh:prCreateUrl", ipc.Typed(func(ctx context.Context, a branchArgs) (any, error) {
		branch := a.Branch
		if branch == "" {
			var err error
			if branch, err = h.Git.GetCurrentBranch(ctx, a.Dir); err != nil {
				return nil, err
			}
		}
		return h.Git.PRCreateURL(ctx, a.Dir, branch)
	}))
	r.Handle("gh:prComments", ipc.Typed(func(ctx context.Context, a prArgs) (any, error) {
		return h.Git.PRComments(ctx, a.Dir, a.Number)
	}))
	r.Handle("gh:replyToComment", ipc.Typed(func(ctx context.Context, a replyArgs) (any, error) {
		return ipc.Result(h.Git.ReplyToComment(ctx, a.Dir, a.Number, a.CommentID, a.Body)), nil
	}))
	r.Handle("gh:prsToReview", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.PRsToReview(ctx, a.Dir)
	}))
	r.Handle("gh:submitDraftReview", ipc.Typed(func(ctx context.Context, a draftReviewArgs) (any, error) {
		return h.Git.SubmitDraftReview(ctx, a.Dir, a.Number, a.Comments)
	}))
	r.Handle("gh:checks", ipc.Typed(func(ctx context.Context, a branchArgs) (any, error) {
		return h.Git.CheckPRChecks(ctx, a.Dir, a.Branch)
	}))
}
