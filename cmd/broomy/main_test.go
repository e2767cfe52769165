package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/handlers"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/paths"
	"github.com/broomy/broomy-core/session"
	"github.com/broomy/broomy-core/terminal"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)
	return home
}

func resetFlags(t *testing.T) {
	t.Helper()
	origDebug, origSettings, origProfile, origSocket := debugMode, settingsFile, profileFlag, socketFlag
	t.Cleanup(func() {
		debugMode, settingsFile, profileFlag, socketFlag = origDebug, origSettings, origProfile, origSocket
	})
	debugMode, settingsFile, profileFlag, socketFlag = false, "", "", ""
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"debug", "config", "profile", "socket"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "--%s flag", name)
	}
	assert.Equal(t, "false", rootCmd.PersistentFlags().Lookup("debug").DefValue)
}

func TestSubcommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "call", "status", "attach", "doctor", "clean", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionTemplate(t *testing.T) {
	origV, origC, origD := buildVersion, buildCommit, buildDate
	defer SetVersionInfo(origV, origC, origD)

	SetVersionInfo("1.0.0", "none", "unknown")
	assert.Equal(t, "broomy 1.0.0\n", versionTemplate())

	SetVersionInfo("1.0.0", "abc123", "2026-01-02")
	assert.Equal(t, "broomy 1.0.0\n  commit: abc123\n  built:  2026-01-02\n", versionTemplate())
}

func TestLoadSettingsOverrides(t *testing.T) {
	home := isolateHome(t)
	resetFlags(t)

	settingsFile = filepath.Join(home, "broomy.yaml")
	require.NoError(t, os.WriteFile(settingsFile, []byte("profile: work\npoll_interval: 5s\npr_poll_interval: 1m\n"), 0o644))

	s, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "work", s.Profile)
	assert.Equal(t, 5*time.Second, s.PollInterval)
	assert.False(t, s.Debug)

	profileFlag = "other"
	socketFlag = "/tmp/custom.sock"
	debugMode = true
	s, err = loadSettings()
	require.NoError(t, err)
	assert.Equal(t, "other", s.Profile)
	assert.Equal(t, "/tmp/custom.sock", s.SocketPath)
	assert.True(t, s.Debug)

	profileFlag = "../escape"
	_, err = loadSettings()
	assert.Error(t, err)
}

func TestResolveProfile(t *testing.T) {
	isolateHome(t)

	id, profiles, err := resolveProfile(config.Settings{})
	require.NoError(t, err)
	assert.Equal(t, paths.DefaultProfileID, id)
	assert.NotNil(t, profiles)

	_, _, err = resolveProfile(config.Settings{Profile: "missing"})
	assert.ErrorContains(t, err, "unknown profile")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"lowercase y", "y\n", true},
		{"uppercase YES", "YES\n", true},
		{"y with spaces", "  y  \n", true},
		{"lowercase n", "n\n", false},
		{"empty input", "\n", false},
		{"random text", "maybe\n", false},
		{"EOF", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.expected, confirm(strings.NewReader(tt.input), &out, "Test?"))
			assert.Equal(t, "Test? [y/N]: ", out.String())
		})
	}
}

func TestParseCallArgs(t *testing.T) {
	raw, err := parseCallArgs([]string{"app:info"})
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = parseCallArgs([]string{"fs:readFile", `{"path":"/tmp/x"}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/tmp/x"}`, string(raw))

	_, err = parseCallArgs([]string{"fs:readFile", `{path}`})
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", out.String())

	out.Reset()
	require.NoError(t, printJSON(&out, nil))
	assert.Equal(t, "null\n", out.String())
}

func TestSplitDetach(t *testing.T) {
	data, detach := splitDetach([]byte("ls\r"))
	assert.Equal(t, "ls\r", string(data))
	assert.False(t, detach)

	data, detach = splitDetach([]byte{'a', detachKey, 'b'})
	assert.Equal(t, "a", string(data))
	assert.True(t, detach)
}

func TestDecodePayload(t *testing.T) {
	var ev terminal.DataEvent
	require.NoError(t, decodePayload(map[string]any{"id": "t1", "data": "hello"}, &ev))
	assert.Equal(t, terminal.DataEvent{ID: "t1", Data: "hello"}, ev)
}

func TestPrintStatus(t *testing.T) {
	sessions := []config.Session{
		{ID: "s1", Name: "feature", Branch: "feature", Status: "in-progress", Directory: "/w/feature", PRNumber: 7, LastKnownPRState: "OPEN"},
		{ID: "s2", Name: "old", Branch: "old", Status: "merged", Directory: "/w/old", IsArchived: true},
	}
	statuses := []session.SessionStatus{
		{SessionID: "s1", BranchStatus: git.BranchPushed, Git: &git.StatusResult{Ahead: 2}},
	}

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, sessions, statuses, false))
	text := out.String()
	assert.Contains(t, text, "NAME")
	assert.Contains(t, text, "feature")
	assert.Contains(t, text, string(git.BranchPushed))
	assert.Contains(t, text, "0 +2")
	assert.Contains(t, text, "#7 OPEN")
	assert.NotContains(t, text, "/w/old")

	out.Reset()
	require.NoError(t, printStatus(&out, sessions, statuses, true))
	assert.Contains(t, out.String(), "merged (archived)")

	out.Reset()
	require.NoError(t, printStatus(&out, nil, nil, false))
	assert.Equal(t, "No sessions.\n", out.String())
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bry")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func TestDaemonServesChannels(t *testing.T) {
	isolateHome(t)
	s, err := config.DefaultSettings()
	require.NoError(t, err)
	s.SocketPath = shortSocketPath(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := startDaemon(ctx, s)
	require.NoError(t, err)
	defer d.Close()

	_, err = startDaemon(ctx, s)
	assert.ErrorIs(t, err, ipc.ErrAlreadyRunning)

	client, err := ipc.Dial(s.SocketPath)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	var info handlers.AppInfo
	require.NoError(t, client.Call(callCtx, "app:info", nil, &info))
	assert.Equal(t, paths.DefaultProfileID, info.ProfileID)
	assert.Equal(t, s.SocketPath, info.SocketPath)

	var sessions []config.Session
	require.NoError(t, client.Call(callCtx, "sessions:list", nil, &sessions))
	assert.Empty(t, sessions)
}

func TestCleanNothingToPrune(t *testing.T) {
	isolateHome(t)
	origSkip := skipConfirm
	defer func() { skipConfirm = origSkip }()
	skipConfirm = false

	svc := session.NewSessionService(session.Options{Config: config.Default(), WorktreesDir: t.TempDir()})

	var out bytes.Buffer
	require.NoError(t, runCleanWithReader(context.Background(), svc, strings.NewReader("n\n"), &out))
	assert.Contains(t, out.String(), "All log files in")
	assert.Contains(t, out.String(), "Aborted.")

	out.Reset()
	skipConfirm = true
	require.NoError(t, runCleanWithReader(context.Background(), svc, io.MultiReader(), &out))
	assert.Contains(t, out.String(), "Cleaned:")
	assert.Contains(t, out.String(), "log file(s) removed")
}
