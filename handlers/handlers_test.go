package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broomy/broomy-core/apperror"
	"github.com/broomy/broomy-core/config"
	pexec "github.com/broomy/broomy-core/exec"
	"github.com/broomy/broomy-core/files"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/paths"
)

type fixture struct {
	router  *ipc.Router
	mock    *pexec.MockExecutor
	cfg     *config.Config
	store   *config.Store
	errs    *apperror.Log
	copied  []string
	workDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)

	f := &fixture{
		router:  ipc.NewRouter(),
		mock:    pexec.NewMockExecutor(nil),
		cfg:     config.Default(),
		errs:    apperror.NewLog(),
		workDir: t.TempDir(),
	}
	f.cfg.SetFilePath(filepath.Join(home, "config.json"))
	f.store = config.NewStore(f.cfg.FilePath(), 0)
	t.Cleanup(func() { f.store.Close() })

	Register(f.router, Deps{
		Config:    f.cfg,
		Store:     f.store,
		ProfileID: paths.DefaultProfileID,
		Version:   "1.2.3",
		Git:       git.NewGitServiceWithExecutor(f.mock),
		Files:     files.NewService(files.DefaultMaxFileSize),
		Errors:    f.errs,
		Clipboard: func(text string) error {
			f.copied = append(f.copied, text)
			return nil
		},
	})
	return f
}

func (f *fixture) call(t *testing.T, channel string, args, out any) error {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		var err error
		raw, err = json.Marshal(args)
		require.NoError(t, err)
	}
	res, err := f.router.Dispatch(context.Background(), channel, raw)
	if err != nil {
		return err
	}
	if out != nil {
		data, err := json.Marshal(res)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func TestRegister_AllChannels(t *testing.T) {
	f := newFixture(t)
	want := []string{
		"fs:readDir", "fs:readFile", "fs:readFileBase64", "fs:writeFile", "fs:appendFile", "fs:exists",
		"fs:mkdir", "fs:rm", "fs:createFile", "fs:rename", "fs:search", "fs:watch", "fs:unwatch",
		"git:status", "git:getBranch", "git:isGitRepo", "git:defaultBranch", "git:remoteUrl", "git:headCommit",
		"git:stage", "git:stageAll", "git:unstage", "git:discard", "git:commit", "git:push", "git:pushNewBranch",
		"git:pull", "git:syncWithMain", "git:diff", "git:show", "git:branchChanges", "git:branchCommits",
		"git:commitFiles", "git:isMergedInto", "git:hasBranchCommits", "git:clone", "git:worktreeAdd",
		"git:worktreeList", "git:worktreeRemove", "git:deleteBranch", "git:branchStatus",
		"gh:isInstalled", "gh:repoSlug", "gh:issues", "gh:prStatus", "gh:hasWriteAccess", "gh:mergeBranchToMain",
		"gh:prCreateUrl", "gh:prComments", "gh:replyToComment", "gh:prsToReview", "gh:submitDraftReview", "gh:checks",
		"pty:create", "pty:write", "pty:resize", "pty:kill", "pty:list", "pty:scrollback",
		"ts:getProjectContext",
		"config:load", "config:save", "config:profiles", "config:setProfile",
		"agents:list", "agents:add", "agents:update", "agents:remove",
		"repos:list", "repos:add", "repos:remove", "repos:getInitScript", "repos:saveInitScript", "repos:settings",
		"sessions:list", "sessions:create", "sessions:addExisting", "sessions:delete", "sessions:archive",
		"sessions:togglePanel", "sessions:status",
		"review:load", "review:save", "review:comments", "review:addComment", "review:deleteComment",
		"review:pushComments", "review:archive", "review:clear",
		"errors:list", "errors:dismiss", "errors:clear", "errors:reportUrl",
		"app:info", "app:copyText",
	}
	assert.ElementsMatch(t, want, f.router.Channels())
}

func TestFS_WriteAndRead(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.workDir, "nested", "a.txt")

	var env ipc.Envelope
	require.NoError(t, f.call(t, "fs:writeFile", writeArgs{Path: path, Content: "hello"}, &env))
	assert.True(t, env.Success)

	var content string
	require.NoError(t, f.call(t, "fs:readFile", pathArgs{Path: path}, &content))
	assert.Equal(t, "hello", content)

	var exists bool
	require.NoError(t, f.call(t, "fs:exists", pathArgs{Path: path}, &exists))
	assert.True(t, exists)

	require.NoError(t, f.call(t, "fs:createFile", pathArgs{Path: path}, &env))
	assert.False(t, env.Success, "createFile on an existing file reports failure in the envelope")
	assert.NotEmpty(t, env.Error)
}

func TestGit_CommitEnvelope(t *testing.T) {
	f := newFixture(t)
	f.mock.AddPrefixMatch("git", []string{"commit"}, pexec.MockResponse{
		Stdout: []byte("nothing to commit, working tree clean"),
		Err:    errors.New("exit status 1"),
	})

	var env ipc.Envelope
	require.NoError(t, f.call(t, "git:commit", commitArgs{Dir: f.workDir, Message: "msg"}, &env))
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "nothing to commit")

	calls := f.mock.CallsWithPrefix("git", "commit")
	require.Len(t, calls, 1)
	assert.Equal(t, "msg", string(calls[0].Input))
}

func TestGit_StatusWithoutPoller(t *testing.T) {
	f := newFixture(t)
	f.mock.AddPrefixMatch("git", []string{"status"}, pexec.MockResponse{Stdout: []byte("## feature...origin/feature [ahead 3]\n")})

	var st git.StatusResult
	require.NoError(t, f.call(t, "git:status", dirArgs{Dir: f.workDir}, &st))
	assert.Equal(t, "feature", st.Current)
	assert.Equal(t, 3, st.Ahead)
}

func TestGit_BranchStatusNeedsPoller(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.call(t, "git:branchStatus", sessionArgs{ID: "x"}, nil))
}

func TestGitHub_MergeBranchToMainRecordsCommit(t *testing.T) {
	f := newFixture(t)
	f.mock.AddExactMatch("git", []string{"rev-parse", "HEAD"}, pexec.MockResponse{Stdout: []byte("abc123\n")})
	require.NoError(t, f.cfg.AddSession(config.Session{ID: "s1", Directory: f.workDir, Branch: "feature"}))

	var res mergeToMainResult
	require.NoError(t, f.call(t, "gh:mergeBranchToMain", mergeToMainArgs{Dir: f.workDir, SessionID: "s1"}, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "abc123", res.Commit)

	sess := f.cfg.GetSession("s1")
	assert.Equal(t, "abc123", sess.PushedToMainCommit)
	assert.NotNil(t, sess.PushedToMainAt)
}

func TestGitHub_MergeBranchToMainFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.AddExactMatch("git", []string{"rev-parse", "HEAD"}, pexec.MockResponse{Stdout: []byte("abc123\n")})
	f.mock.AddPrefixMatch("git", []string{"push"}, pexec.MockResponse{
		Stdout: []byte("! [rejected] HEAD -> main (non-fast-forward)"),
		Err:    errors.New("exit status 1"),
	})

	var res mergeToMainResult
	require.NoError(t, f.call(t, "gh:mergeBranchToMain", mergeToMainArgs{Dir: f.workDir}, &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rejected")
	assert.Empty(t, res.Commit)
}

func TestConfig_SaveRefusesEmptyOverwrite(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cfg.AddSession(config.Session{ID: "s1", Directory: f.workDir}))
	require.NoError(t, f.store.Write(f.cfg))

	doc := f.cfg.Snapshot()
	doc.Sessions = nil
	err := f.call(t, "config:save", doc, nil)
	assert.ErrorIs(t, err, config.ErrEmptyOverwrite)
	assert.Len(t, f.cfg.GetSessions(), 1, "in-memory config is untouched after a refused save")
}

func TestConfig_SaveReplaces(t *testing.T) {
	f := newFixture(t)
	doc := f.cfg.Snapshot()
	doc.ShowSidebar = false
	doc.SidebarWidth = 400

	require.NoError(t, f.call(t, "config:save", doc, nil))
	var loaded config.Config
	require.NoError(t, f.call(t, "config:load", nil, &loaded))
	assert.Equal(t, 400, loaded.SidebarWidth)
	assert.False(t, loaded.ShowSidebar)
}

func TestAgents_AddUpdateRemove(t *testing.T) {
	f := newFixture(t)

	var added config.AgentConfig
	require.NoError(t, f.call(t, "agents:add", config.AgentConfig{Name: "Aider", Command: "aider"}, &added))
	assert.NotEmpty(t, added.ID)

	added.Command = "aider --yes"
	require.NoError(t, f.call(t, "agents:update", added, nil))
	assert.Equal(t, "aider --yes", f.cfg.GetAgent(added.ID).Command)

	assert.Error(t, f.call(t, "agents:update", config.AgentConfig{ID: "missing", Command: "x"}, nil))

	var removed bool
	require.NoError(t, f.call(t, "agents:remove", idArgs{ID: added.ID}, &removed))
	assert.True(t, removed)
	assert.Nil(t, f.cfg.GetAgent(added.ID))
}

func TestRepos_InitScript(t *testing.T) {
	f := newFixture(t)

	var script string
	require.NoError(t, f.call(t, "repos:getInitScript", initScriptArgs{RepoID: "r1"}, &script))
	assert.Empty(t, script)

	var env ipc.Envelope
	require.NoError(t, f.call(t, "repos:saveInitScript", initScriptArgs{RepoID: "r1", Script: "npm install\n"}, &env))
	require.True(t, env.Success, env.Error)

	require.NoError(t, f.call(t, "repos:getInitScript", initScriptArgs{RepoID: "r1"}, &script))
	assert.Equal(t, "npm install\n", script)

	require.NoError(t, f.call(t, "repos:saveInitScript", initScriptArgs{RepoID: "r1"}, &env))
	require.True(t, env.Success)
	require.NoError(t, f.call(t, "repos:getInitScript", initScriptArgs{RepoID: "r1"}, &script))
	assert.Empty(t, script)
}

func TestRepos_Settings(t *testing.T) {
	f := newFixture(t)

	var rs config.RepoSettings
	require.NoError(t, f.call(t, "repos:settings", repoSettingsArgs{Dir: f.workDir}, &rs))
	assert.Empty(t, rs.Setup)

	want := &config.RepoSettings{DefaultAgent: "codex", Setup: []string{"make deps"}}
	require.NoError(t, f.call(t, "repos:settings", repoSettingsArgs{Dir: f.workDir, Settings: want}, nil))

	require.NoError(t, f.call(t, "repos:settings", repoSettingsArgs{Dir: f.workDir}, &rs))
	assert.Equal(t, "codex", rs.DefaultAgent)
	assert.Equal(t, []string{"make deps"}, rs.Setup)

	assert.Error(t, f.call(t, "repos:settings", repoSettingsArgs{RepoID: "nope"}, nil))
}

func TestPTYOptions_FromSessionAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.cfg.AddAgent(config.AgentConfig{ID: "a1", Name: "Agent", Command: "agent --go", Env: map[string]string{"A": "1", "B": "agent"}})
	require.NoError(t, err)
	require.NoError(t, f.cfg.AddSession(config.Session{ID: "s1", Directory: f.workDir, AgentID: "a1"}))

	h := &handlers{Deps: Deps{Config: f.cfg}}
	opts, err := h.ptyOptions(ptyCreateArgs{SessionID: "s1", Agent: true})
	require.NoError(t, err)
	assert.Equal(t, f.workDir, opts.Cwd)
	assert.Equal(t, "agent --go", opts.Command)

	args := ptyCreateArgs{SessionID: "s1"}
	args.Env = map[string]string{"B": "override"}
	args.Agent = true
	opts, err = h.ptyOptions(args)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "override"}, opts.Env)
	assert.Equal(t, "agent", f.cfg.GetAgent("a1").Env["B"], "agent env must not be modified")

	opts, err = h.ptyOptions(ptyCreateArgs{SessionID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, opts.Command, "a plain shell unless the agent is requested")

	_, err = h.ptyOptions(ptyCreateArgs{SessionID: "missing"})
	assert.Error(t, err)
}

func TestErrors_ListDismissReport(t *testing.T) {
	f := newFixture(t)
	e := f.errs.Record(errors.New("fatal: not a git repository"), "s1")
	f.errs.Record(errors.New("boom"), "")

	var list []apperror.AppError
	require.NoError(t, f.call(t, "errors:list", nil, &list))
	assert.Len(t, list, 2)

	var url string
	require.NoError(t, f.call(t, "errors:reportUrl", errorsArgs{ID: e.ID}, &url))
	assert.Contains(t, url, config.DefaultIssueURL)
	assert.Error(t, f.call(t, "errors:reportUrl", errorsArgs{ID: "missing"}, nil))

	var ok bool
	require.NoError(t, f.call(t, "errors:dismiss", errorsArgs{ID: e.ID}, &ok))
	assert.True(t, ok)
	require.NoError(t, f.call(t, "errors:list", errorsArgs{Active: true}, &list))
	assert.Len(t, list, 1)

	var cleared int
	require.NoError(t, f.call(t, "errors:clear", nil, &cleared))
	assert.Equal(t, 2, cleared)
	assert.Zero(t, f.errs.Len())
}

func TestApp_InfoAndCopy(t *testing.T) {
	f := newFixture(t)

	var info AppInfo
	require.NoError(t, f.call(t, "app:info", nil, &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, paths.DefaultProfileID, info.ProfileID)
	assert.Equal(t, f.cfg.FilePath(), info.ConfigPath)

	var env ipc.Envelope
	require.NoError(t, f.call(t, "app:copyText", copyArgs{Text: "https://example.com/pr/1"}, &env))
	assert.True(t, env.Success)
	assert.Equal(t, []string{"https://example.com/pr/1"}, f.copied)
}

func TestReview_CommentsRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.mock.AddPrefixMatch("git", []string{"rev-parse", "--git-path"}, pexec.MockResponse{
		Stdout: []byte(filepath.Join(f.workDir, ".git", "info", "exclude") + "\n"),
	})

	var c struct {
		ID string `json:"id"`
	}
	require.NoError(t, f.call(t, "review:addComment", addCommentArgs{Dir: f.workDir, File: "a.go", Line: 3, Body: "nit"}, &c))
	require.NotEmpty(t, c.ID)

	var comments []map[string]any
	require.NoError(t, f.call(t, "review:comments", reviewArgs{Dir: f.workDir}, &comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "nit", comments[0]["body"])

	var deleted bool
	require.NoError(t, f.call(t, "review:deleteComment", deleteCommentArgs{Dir: f.workDir, ID: c.ID}, &deleted))
	assert.True(t, deleted)

	assert.Error(t, f.call(t, "review:load", reviewArgs{}, nil))
}
