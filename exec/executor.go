// Package exec provides an abstraction over command execution for testability.
// Every git and gh invocation in Broomy goes through a CommandExecutor so that
// services can be exercised against recorded responses in tests.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
)

// CommandExecutor abstracts command execution for testability.
// Production code uses RealExecutor, while tests use MockExecutor.
type CommandExecutor interface {
	// Run executes a command and returns stdout, stderr, and any error.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)

	// RunWithInput is Run with stdin fed from input.
	RunWithInput(ctx context.Context, dir string, input []byte, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes a command and returns stdout.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// NonInteractiveEnv keeps git and gh from blocking on credential or
// confirmation prompts when they run without a terminal.
var NonInteractiveEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GH_PROMPT_DISABLED=1",
	"GIT_OPTIONAL_LOCKS=0",
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct {
	env []string
}

// Option configures a RealExecutor.
type Option func(*RealExecutor)

// WithEnv appends KEY=VALUE pairs to the environment of every command.
func WithEnv(kv ...string) Option {
	return func(e *RealExecutor) {
		e.env = append(e.env, kv...)
	}
}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor(opts ...Option) *RealExecutor {
	e := &RealExecutor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	return cmd
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error) {
	return e.RunWithInput(ctx, dir, nil, name, args...)
}

// RunWithInput executes a command with input on stdin.
func (e *RealExecutor) RunWithInput(ctx context.Context, dir string, input []byte, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := e.command(ctx, dir, name, args)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Output executes a command and returns stdout. On failure the returned
// error is an *exec.ExitError carrying stderr.
func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, name, args).Output()
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.command(ctx, dir, name, args).CombinedOutput()
}

// ExitCode extracts the process exit code from an error returned by an
// executor. It returns 0 for a nil error and -1 when the error did not come
// from a finished process.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// Stderr returns the stderr captured in an *exec.ExitError, if any.
func Stderr(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(bytes.TrimSpace(exitErr.Stderr))
	}
	return ""
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)

var defaultExecutorMu sync.RWMutex

var defaultExecutor CommandExecutor = NewRealExecutor(WithEnv(NonInteractiveEnv...))

// GetDefaultExecutor returns the global default executor.
func GetDefaultExecutor() CommandExecutor {
	defaultExecutorMu.RLock()
	defer defaultExecutorMu.RUnlock()
	return defaultExecutor
}

// SetDefaultExecutor sets the global default executor.
func SetDefaultExecutor(e CommandExecutor) {
	defaultExecutorMu.Lock()
	defer defaultExecutorMu.Unlock()
	defaultExecutor = e
}
