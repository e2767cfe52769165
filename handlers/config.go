package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/logger"
	"github.com/broomy/broomy-core/paths"
)

type idArgs struct {
	ID string `json:"id"`
}

type setProfileArgs struct {
	ProfileID string `json:"profileId"`
}

// profilesResult is the answer of config:profiles.
type profilesResult struct {
	Profiles      []config.Profile `json:"profiles"`
	LastProfileID string           `json:"lastProfileId"`
	Current       string           `json:"current"`
}

type initScriptArgs struct {
	RepoID string `json:"repoId"`
	Script string `json:"script,omitempty"`
}

type repoSettingsArgs struct {
	RepoID   string               `json:"repoId,omitempty"`
	Dir      string               `json:"dir,omitempty"`      // Used when RepoID is empty
	Settings *config.RepoSettings `json:"settings,omitempty"` // Saved when present
}

func (h *handlers) registerConfig(r *ipc.Router) {
	r.Handle("config:load", noArgs(func(context.Context) (any, error) {
		return h.Config.Snapshot(), nil
	}))
	r.Handle("config:save", h.saveConfig)
	r.Handle("config:profiles", noArgs(func(context.Context) (any, error) {
		if h.Profiles == nil {
			return nil, errors.New("profiles are not available")
		}
		return profilesResult{Profiles: h.Profiles.List(), LastProfileID: h.Profiles.Last(), Current: h.ProfileID}, nil
	}))
	r.Handle("config:setProfile", ipc.Typed(func(_ context.Context, a setProfileArgs) (any, error) {
		if h.Profiles == nil {
			return nil, errors.New("profiles are not available")
		}
		if err := h.Profiles.SetLastProfile(a.ProfileID); err != nil {
			return nil, err
		}
		if err := h.Profiles.Save(); err != nil {
			return nil, err
		}
		// The daemon serves one profile; the new one is used from the next start.
		return map[string]bool{"restartRequired": a.ProfileID != h.ProfileID}, nil
	}))

	r.Handle("agents:list", noArgs(func(context.Context) (any, error) {
		return h.Config.GetAgents(), nil
	}))
	r.Handle("agents:add", ipc.Typed(func(_ context.Context, a config.AgentConfig) (any, error) {
		agent, err := h.Config.AddAgent(a)
		if err != nil {
			return nil, err
		}
		return agent, h.save()
	}))
	r.Handle("agents:update", ipc.Typed(func(_ context.Context, a config.AgentConfig) (any, error) {
		if !h.Config.UpdateAgent(a) {
			return nil, fmt.Errorf("agent %s not found", a.ID)
		}
		return true, h.save()
	}))
	r.Handle("agents:remove", ipc.Typed(func(_ context.Context, a idArgs) (any, error) {
		if !h.Config.RemoveAgent(a.ID) {
			return false, nil
		}
		if h.Store != nil && len(h.Config.GetAgents()) == 0 {
			h.Store.AllowEmpty(config.FieldAgents)
		}
		return true, h.save()
	}))

	r.Handle("repos:list", noArgs(func(context.Context) (any, error) {
		return h.Config.GetRepos(), nil
	}))
	r.Handle("repos:add", ipc.Typed(h.addRepo))
	r.Handle("repos:remove", ipc.Typed(func(_ context.Context, a idArgs) (any, error) {
		if !h.Config.RemoveRepo(a.ID) {
			return false, nil
		}
		if h.Store != nil && len(h.Config.GetRepos()) == 0 {
			h.Store.AllowEmpty(config.FieldRepos)
		}
		return true, h.save()
	}))
	r.Handle("repos:getInitScript", ipc.Typed(func(_ context.Context, a initScriptArgs) (any, error) {
		path, err := paths.InitScriptPath(h.ProfileID, a.RepoID)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return "", nil
		}
		return string(data), err
	}))
	r.Handle("repos:saveInitScript", ipc.Typed(func(_ context.Context, a initScriptArgs) (any, error) {
		path, err := paths.InitScriptPath(h.ProfileID, a.RepoID)
		if err != nil {
			return nil, err
		}
		if a.Script == "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return ipc.Result(err), nil
			}
			return ipc.Result(nil), nil
		}
		return ipc.Result(config.WriteFileAtomic(path, []byte(a.Script), 0o755)), nil
	}))
	r.Handle("repos:settings", ipc.Typed(func(_ context.Context, a repoSettingsArgs) (any, error) {
		dir := a.Dir
		if a.RepoID != "" {
			repo := h.Config.GetRepo(a.RepoID)
			if repo == nil {
				return nil, fmt.Errorf("repo not found: %s", a.RepoID)
			}
			dir = repo.RootDir
		}
		if dir == "" {
			return nil, errors.New("repoId or dir is required")
		}
		if a.Settings != nil {
			if err := config.SaveRepoSettings(dir, a.Settings); err != nil {
				return nil, err
			}
			return a.Settings, nil
		}
		rs, err := config.LoadRepoSettings(dir)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			rs = &config.RepoSettings{}
		}
		return rs, nil
	}))
}

// saveConfig replaces the whole config with a client document. The write
// is immediate so a guarded overwrite fails the call instead of a later
// background save.
func (h *handlers) saveConfig(_ context.Context, raw json.RawMessage) (any, error) {
	next, err := config.Parse(h.Config.FilePath(), raw)
	if err != nil {
		return nil, err
	}
	if h.Store != nil {
		if err := h.Store.Write(next); err != nil {
			return nil, err
		}
	}
	h.Config.Replace(next)
	return true, nil
}

// addRepo registers a repository, filling the default branch and remote
// from git.
func (h *handlers) addRepo(ctx context.Context, repo config.ManagedRepo) (any, error) {
	if !git.IsGitRepo(repo.RootDir) {
		return nil, fmt.Errorf("not a git repository: %s", repo.RootDir)
	}
	if root, err := git.RepoRoot(repo.RootDir); err == nil {
		repo.RootDir = root
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = h.Git.GetDefaultBranch(ctx, repo.RootDir)
	}
	if repo.RemoteURL == "" {
		if url, err := h.Git.GetRemoteURL(ctx, repo.RootDir); err == nil {
			repo.RemoteURL = url
		}
	}
	added, err := h.Config.AddRepo(repo)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("handlers").Info("added repo", "repo", added.Name, "root", added.RootDir)
	return added, h.save()
}
