package handlers

import (
	"context"

	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/tsproject"
)

type pathArgs struct {
	Path string `json:"path"`
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type renameArgs struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type searchArgs struct {
	Dir   string `json:"dir"`
	Query string `json:"query"`
}

type watchArgs struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

func (h *handlers) registerFS(r *ipc.Router) {
	r.Handle("fs:readDir", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return h.Files.ReadDir(a.Path)
	}))
	r.Handle("fs:readFile", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return h.Files.ReadFile(a.Path)
	}))
	r.Handle("fs:readFileBase64", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return h.Files.ReadFileBase64(a.Path)
	}))
	r.Handle("fs:writeFile", ipc.Typed(func(_ context.Context, a writeArgs) (any, error) {
		return ipc.Result(h.Files.WriteFile(a.Path, a.Content)), nil
	}))
	r.Handle("fs:appendFile", ipc.Typed(func(_ context.Context, a writeArgs) (any, error) {
		return ipc.Result(h.Files.AppendFile(a.Path, a.Content)), nil
	}))
	r.Handle("fs:exists", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return h.Files.Exists(a.Path), nil
	}))
	r.Handle("fs:mkdir", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return ipc.Result(h.Files.Mkdir(a.Path)), nil
	}))
	r.Handle("fs:rm", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return ipc.Result(h.Files.Remove(a.Path)), nil
	}))
	r.Handle("fs:createFile", ipc.Typed(func(_ context.Context, a pathArgs) (any, error) {
		return ipc.Result(h.Files.CreateFile(a.Path)), nil
	}))
	r.Handle("fs:rename", ipc.Typed(func(_ context.Context, a renameArgs) (any, error) {
		return ipc.Result(h.Files.Rename(a.OldPath, a.NewPath)), nil
	}))
	r.Handle("fs:search", ipc.Typed(func(ctx context.Context, a searchArgs) (any, error) {
		return h.Files.Search(ctx, a.Dir, a.Query)
	}))
	r.Handle("fs:watch", ipc.Typed(func(_ context.Context, a watchArgs) (any, error) {
		if err := h.Watcher.Watch(a.ID, a.Dir); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Handle("fs:unwatch", ipc.Typed(func(_ context.Context, a watchArgs) (any, error) {
		return h.Watcher.Unwatch(a.ID), nil
	}))
}

type dirArgs struct {
	Dir string `json:"dir"`
}

func (h *handlers) registerTS(r *ipc.Router) {
	r.Handle("ts:getProjectContext", ipc.Typed(func(_ context.Context, a dirArgs) (any, error) {
		return tsproject.GetProjectContext(a.Dir)
	}))
}
