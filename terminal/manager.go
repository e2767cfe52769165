// Package terminal runs the session shells behind Broomy's agent and user
// terminal panels on pseudo-terminals and streams their output as events.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"

	"github.com/broomy/broomy-core/logger"
)

const (
	// ScrollbackSize is how much recent output is kept for reattaching clients.
	ScrollbackSize = 64 * 1024

	DefaultCols = 80
	DefaultRows = 24

	killGrace    = 3 * time.Second
	drainTimeout = 2 * time.Second
)

// ErrNotFound is returned for unknown PTY IDs.
var ErrNotFound = errors.New("pty not found")

// Publisher receives PTY output and exit events. events.Bus implements it.
type Publisher interface {
	Publish(channel string, payload any)
}

// DataChannel and ExitChannel name the events of PTY id.
func DataChannel(id string) string { return "pty:data:" + id }
func ExitChannel(id string) string { return "pty:exit:" + id }

// DataEvent is the payload of pty:data:<id>.
type DataEvent struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// ExitEvent is the payload of pty:exit:<id>.
type ExitEvent struct {
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
}

// CreateOptions describes a new terminal.
type CreateOptions struct {
	ID      string            `json:"id"`
	Cwd     string            `json:"cwd"`
	Command string            `json:"command,omitempty"` // Typed into the shell after start
	Env     map[string]string `json:"env,omitempty"`
	Cols    uint16            `json:"cols,omitempty"`
	Rows    uint16            `json:"rows,omitempty"`
}

// Info describes a running terminal.
type Info struct {
	ID        string    `json:"id"`
	Cwd       string    `json:"cwd"`
	Command   string    `json:"command,omitempty"`
	PID       int       `json:"pid"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	StartedAt time.Time `json:"startedAt"`
}

type term struct {
	info       Info
	ptmx       *os.File
	cmd        *exec.Cmd
	scrollback *ringBuffer
	transcript *os.File
	readDone   chan struct{}
	done       chan struct{}
	mu         sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithShell sets the shell used instead of $SHELL.
func WithShell(shell string) Option {
	return func(m *Manager) { m.shell = shell }
}

// WithTranscripts mirrors every terminal's output to pty-<id>.log in the
// logs directory.
func WithTranscripts(enabled bool) Option {
	return func(m *Manager) { m.transcripts = enabled }
}

// Manager owns the running terminals.
type Manager struct {
	pub         Publisher
	shell       string
	transcripts bool
	mu          sync.Mutex
	terms       map[string]*term
}

// NewManager creates a Manager publishing to pub.
func NewManager(pub Publisher, opts ...Option) *Manager {
	m := &Manager{pub: pub, terms: make(map[string]*term)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// shellPath picks the configured shell, then $SHELL, then /bin/sh.
func (m *Manager) shellPath() string {
	for _, candidate := range []string{m.shell, os.Getenv("SHELL")} {
		if candidate == "" {
			continue
		}
		if p, err := exec.LookPath(candidate); err == nil {
			return p
		}
	}
	return "/bin/sh"
}

// buildEnv overlays extra on the current environment and forces a
// 256-color TERM.
func buildEnv(extra map[string]string) []string {
	env := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := env[k]; !ok {
			order = append(order, k)
		}
		env[k] = v
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			set(k, v)
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, extra[k])
	}
	set("TERM", "xterm-256color")

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Create starts a login shell for opts. An existing terminal with the same
// ID is killed first.
func (m *Manager) Create(opts CreateOptions) (*Info, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("pty id is required")
	}
	if info, err := os.Stat(opts.Cwd); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working directory does not exist: %s", opts.Cwd)
	}
	if opts.Cols == 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = DefaultRows
	}

	if m.exists(opts.ID) {
		if err := m.Kill(opts.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	log := logger.WithComponent("terminal")
	shell := m.shellPath()
	cmd := exec.Command(shell, "-l")
	cmd.Dir = opts.Cwd
	cmd.Env = buildEnv(opts.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	t := &term{
		info: Info{
			ID:        opts.ID,
			Cwd:       opts.Cwd,
			Command:   opts.Command,
			PID:       cmd.Process.Pid,
			Cols:      opts.Cols,
			Rows:      opts.Rows,
			StartedAt: time.Now(),
		},
		ptmx:       ptmx,
		cmd:        cmd,
		scrollback: newRingBuffer(ScrollbackSize),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	if m.transcripts {
		if path, err := logger.PTYLogPath(opts.ID); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				t.transcript = f
			} else {
				log.Warn("failed to open pty transcript", "path", path, "error", err)
			}
		}
	}

	m.mu.Lock()
	m.terms[opts.ID] = t
	m.mu.Unlock()

	go m.readLoop(t)
	go m.waitLoop(t)

	if opts.Command != "" {
		if _, err := ptmx.Write([]byte(opts.Command + "\r")); err != nil {
			log.Warn("failed to send initial command", "id", opts.ID, "error", err)
		}
	}

	log.Info("pty created", "id", opts.ID, "shell", shell, "cwd", opts.Cwd, "pid", t.info.PID)
	info := t.info
	return &info, nil
}

func (m *Manager) exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.terms[id]
	return ok
}

func (m *Manager) get(id string) (*term, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *Manager) readLoop(t *term) {
	defer close(t.readDone)
	buf := make([]byte, 32*1024)
	var carry []byte
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// Hold back an incomplete trailing rune so events stay valid UTF-8.
			cut := completePrefix(data)
			carry = append([]byte(nil), data[cut:]...)
			m.emit(t, data[:cut])
		}
		if err != nil {
			m.emit(t, carry)
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
				logger.WithComponent("terminal").Debug("pty read error", "id", t.info.ID, "error", err)
			}
			return
		}
	}
}

// emit records output in the scrollback and transcript and publishes it.
func (m *Manager) emit(t *term, data []byte) {
	if len(data) == 0 {
		return
	}
	t.scrollback.Write(data)
	if t.transcript != nil {
		_, _ = t.transcript.Write(data)
	}
	if m.pub != nil {
		m.pub.Publish(DataChannel(t.info.ID), DataEvent{ID: t.info.ID, Data: string(data)})
	}
}

// completePrefix returns the length of data without a trailing partial rune.
func completePrefix(data []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		c := data[len(data)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return len(data) - i
			}
			return len(data)
		}
	}
	return len(data)
}

func (m *Manager) waitLoop(t *term) {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	// The exit event must follow the last data event. A background child
	// can hold the pty open, hence the timeout.
	select {
	case <-t.readDone:
	case <-time.After(drainTimeout):
	}

	t.mu.Lock()
	t.ptmx.Close()
	t.mu.Unlock()
	select {
	case <-t.readDone:
	case <-time.After(drainTimeout):
	}

	t.mu.Lock()
	if t.transcript != nil {
		t.transcript.Close()
	}
	t.mu.Unlock()
	close(t.done)

	m.mu.Lock()
	if m.terms[t.info.ID] == t {
		delete(m.terms, t.info.ID)
	}
	m.mu.Unlock()

	logger.WithComponent("terminal").Info("pty exited", "id", t.info.ID, "exitCode", code)
	if m.pub != nil {
		m.pub.Publish(ExitChannel(t.info.ID), ExitEvent{ID: t.info.ID, ExitCode: code})
	}
}

// Write sends input to terminal id.
func (m *Manager) Write(id string, data []byte) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = t.ptmx.Write(data)
	return err
}

// Resize changes the window size of terminal id.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	t, err := m.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := pty.Setsize(t.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	t.info.Cols, t.info.Rows = cols, rows
	return nil
}

// Kill terminates terminal id: SIGHUP to its process group, then SIGKILL
// if it has not exited after a grace period. It returns once the process
// has exited.
func (m *Manager) Kill(id string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	if p := t.cmd.Process; p != nil {
		// pty.Start makes the shell a session leader, so its pid is the group id.
		if err := syscall.Kill(-p.Pid, syscall.SIGHUP); err != nil {
			_ = p.Signal(syscall.SIGHUP)
		}
	}
	select {
	case <-t.done:
	case <-time.After(killGrace):
		if p := t.cmd.Process; p != nil {
			_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
			_ = p.Kill()
		}
		<-t.done
	}
	logger.WithComponent("terminal").Info("pty killed", "id", id)
	return nil
}

// List returns the running terminals sorted by ID.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.terms))
	for _, t := range m.terms {
		t.mu.Lock()
		out = append(out, t.info)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Scrollback returns the recent output of terminal id.
func (m *Manager) Scrollback(id string) (string, error) {
	t, err := m.get(id)
	if err != nil {
		return "", err
	}
	return string(t.scrollback.Bytes()), nil
}

// CloseAll kills every terminal.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.terms))
	for id := range m.terms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.Kill(id)
		}(id)
	}
	wg.Wait()
}
