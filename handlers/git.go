package handlers

import (
	"context"
	"errors"

	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/ipc"
)

type fileArgs struct {
	Dir  string `json:"dir"`
	File string `json:"file"`
}

type commitArgs struct {
	Dir     string `json:"dir"`
	Message string `json:"message"`
}

type branchArgs struct {
	Dir    string `json:"dir"`
	Branch string `json:"branch"`
}

type diffArgs struct {
	Dir    string `json:"dir"`
	File   string `json:"file"`
	Staged bool   `json:"staged"`
}

type showArgs struct {
	Dir  string `json:"dir"`
	Ref  string `json:"ref"`
	File string `json:"file"`
}

type baseArgs struct {
	Dir  string `json:"dir"`
	Base string `json:"base,omitempty"` // Default branch when empty
}

type commitFilesArgs struct {
	Dir  string `json:"dir"`
	Hash string `json:"hash"`
}

type refArgs struct {
	Dir string `json:"dir"`
	Ref string `json:"ref,omitempty"`
}

type cloneArgs struct {
	URL  string `json:"url"`
	Dest string `json:"dest"`
}

type worktreeArgs struct {
	Repo   string `json:"repo"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Base   string `json:"base,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

type deleteBranchArgs struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Force  bool   `json:"force,omitempty"`
}

type sessionArgs struct {
	ID string `json:"id"`
}

func (h *handlers) registerGit(r *ipc.Router) {
	r.Handle("git:status", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		if h.Poller != nil {
			return h.Poller.Status(ctx, a.Dir)
		}
		return h.Git.Status(ctx, a.Dir)
	}))
	r.Handle("git:getBranch", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.GetCurrentBranch(ctx, a.Dir)
	}))
	r.Handle("git:isGitRepo", ipc.Typed(func(_ context.Context, a dirArgs) (any, error) {
		return git.IsGitRepo(a.Dir), nil
	}))
	r.Handle("git:defaultBranch", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.GetDefaultBranch(ctx, a.Dir), nil
	}))
	r.Handle("git:remoteUrl", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		url, err := h.Git.GetRemoteURL(ctx, a.Dir)
		if err != nil {
			// No origin is a normal state for local repos.
			return "", nil
		}
		return url, nil
	}))
	r.Handle("git:headCommit", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return h.Git.HeadCommit(ctx, a.Dir)
	}))

	r.Handle("git:stage", ipc.Typed(func(ctx context.Context, a fileArgs) (any, error) {
		return ipc.Result(h.Git.Stage(ctx, a.Dir, a.File)), nil
	}))
	r.Handle("git:stageAll", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return ipc.Result(h.Git.StageAll(ctx, a.Dir)), nil
	}))
	r.Handle("git:unstage", ipc.Typed(func(ctx context.Context, a fileArgs) (any, error) {
		return ipc.Result(h.Git.Unstage(ctx, a.Dir, a.File)), nil
	}))
	r.Handle("git:discard", ipc.Typed(func(ctx context.Context, a fileArgs) (any, error) {
		return ipc.Result(h.Git.DiscardFile(ctx, a.Dir, a.File)), nil
	}))
	r.Handle("git:commit", ipc.Typed(func(ctx context.Context, a commitArgs) (any, error) {
		return ipc.Result(h.Git.Commit(ctx, a.Dir, a.Message)), nil
	}))
	r.Handle("git:push", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return ipc.Result(h.Git.Push(ctx, a.Dir)), nil
	}))
	r.Handle("git:pushNewBranch", ipc.Typed(func(ctx context.Context, a branchArgs) (any, error) {
		return ipc.Result(h.Git.PushNewBranch(ctx, a.Dir, a.Branch)), nil
	}))
	r.Handle("git:pull", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		return ipc.Result(h.Git.Pull(ctx, a.Dir)), nil
	}))
	r.Handle("git:syncWithMain", ipc.Typed(func(ctx context.Context, a dirArgs) (any, error) {
		res, err := h.Git.SyncWithMain(ctx, a.Dir)
		if err != nil {
			return &git.SyncResult{Success: false, Message: err.Error()}, nil
		}
		return res, nil
	}))

	r.Handle("git:diff", ipc.Typed(func(ctx context.Context, a diffArgs) (any, error) {
		return h.Git.FileDiff(ctx, a.Dir, a.File, a.Staged)
	}))
	r.Handle("git:show", ipc.Typed(func(ctx context.Context, a showArgs) (any, error) {
		return h.Git.ShowFile(ctx, a.Dir, a.Ref, a.File)
	}))
	r.Handle("git:branchChanges", ipc.Typed(func(ctx context.Context, a baseArgs) (any, error) {
		return h.Git.BranchChanges(ctx, a.Dir, a.Base)
	}))
	r.Handle("git:branchCommits", ipc.Typed(func(ctx context.Context, a baseArgs) (any, error) {
		return h.Git.BranchCommits(ctx, a.Dir, a.Base)
	}))
	r.Handle("git:commitFiles", ipc.Typed(func(ctx context.Context, a commitFilesArgs) (any, error) {
		return h.Git.CommitFiles(ctx, a.Dir, a.Hash)
	}))
	r.Handle("git:isMergedInto", ipc.Typed(func(ctx context.Context, a refArgs) (any, error) {
		return h.Git.IsMergedInto(ctx, a.Dir, a.Ref), nil
	}))
	r.Handle("git:hasBranchCommits", ipc.Typed(func(ctx context.Context, a baseArgs) (any, error) {
		return h.Git.HasBranchCommits(ctx, a.Dir, a.Base)
	}))

	r.Handle("git:clone", ipc.Typed(func(ctx context.Context, a cloneArgs) (any, error) {
		return ipc.Result(h.Git.CloneRepo(ctx, a.URL, a.Dest, nil)), nil
	}))
	r.Handle("git:worktreeAdd", ipc.Typed(func(ctx context.Context, a worktreeArgs) (any, error) {
		if a.Base == "" && h.Git.BranchExists(ctx, a.Repo, a.Branch) {
			return ipc.Result(h.Git.AddWorktreeForBranch(ctx, a.Repo, a.Path, a.Branch)), nil
		}
		base := a.Base
		if base == "" {
			base = "HEAD"
		}
		return ipc.Result(h.Git.AddWorktree(ctx, a.Repo, a.Path, a.Branch, base)), nil
	}))
	r.Handle("git:worktreeList", ipc.Typed(func(ctx context.Context, a worktreeArgs) (any, error) {
		return h.Git.ListWorktrees(ctx, a.Repo)
	}))
	r.Handle("git:worktreeRemove", ipc.Typed(func(ctx context.Context, a worktreeArgs) (any, error) {
		return ipc.Result(h.Git.RemoveWorktree(ctx, a.Repo, a.Path, a.Force)), nil
	}))
	r.Handle("git:deleteBranch", ipc.Typed(func(ctx context.Context, a deleteBranchArgs) (any, error) {
		return ipc.Result(h.Git.DeleteBranch(ctx, a.Repo, a.Branch, a.Force)), nil
	}))
	r.Handle("git:branchStatus", ipc.Typed(func(ctx context.Context, a sessionArgs) (any, error) {
		if h.Poller == nil {
			return nil, errors.New("session polling is not running")
		}
		return h.Poller.Refresh(ctx, a.ID)
	}))
}
