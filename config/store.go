package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/broomy/broomy-core/logger"
)

// DefaultSaveDebounce is how long Save waits for further changes before writing.
const DefaultSaveDebounce = 500 * time.Millisecond

var (
	// ErrEmptyOverwrite is returned by Write when a list that was persisted
	// non-empty would be written empty without AllowEmpty.
	ErrEmptyOverwrite = errors.New("refusing to overwrite non-empty list with an empty one")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("config store is closed")
)

// Field names a guarded list in the config document.
type Field string

const (
	FieldAgents   Field = "agents"
	FieldSessions Field = "sessions"
	FieldRepos    Field = "repos"
)

var guardedFields = []Field{FieldAgents, FieldSessions, FieldRepos}

// Store persists one profile's config file. Save coalesces bursts of
// changes into a single trailing write; Write and Flush write immediately.
type Store struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	last      *Config // last document written or loaded
	lastBytes []byte
	allow     map[Field]bool
	pending   *Config
	timer     *time.Timer
	closed    bool
	onError   func(error)
}

// NewStore creates a store for the config file at path.
// A non-positive debounce uses DefaultSaveDebounce.
func NewStore(path string, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultSaveDebounce
	}
	return &Store{
		path:     path,
		debounce: debounce,
		log:      logger.WithComponent("config-store"),
		allow:    make(map[Field]bool),
	}
}

// Path returns the file the store writes.
func (s *Store) Path() string {
	return s.path
}

// OnError registers a callback for failures of debounced writes, which have
// no caller to return an error to.
func (s *Store) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Load reads the config file, returning defaults when it doesn't exist.
// The loaded document becomes the baseline for the empty-list guard.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no config file, using defaults", "path", s.path)
		cfg := Default()
		cfg.SetFilePath(s.path)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(s.path, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = cfg.Snapshot()
	s.lastBytes = bytes.Clone(data)
	s.mu.Unlock()

	s.log.Info("loaded config", "path", s.path,
		"agents", len(cfg.Agents), "sessions", len(cfg.Sessions), "repos", len(cfg.Repos))
	return cfg, nil
}

// AllowEmpty permits the next write to persist field as an empty list.
// Used when the user deletes the last agent, session or repo.
func (s *Store) AllowEmpty(field Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allow[field] = true
}

// Save schedules a debounced write of cfg. The latest snapshot wins.
func (s *Store) Save(cfg *Config) error {
	snap := cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.pending = snap
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushPending)
	} else {
		s.timer.Reset(s.debounce)
	}
	return nil
}

// Write persists cfg immediately, superseding any pending save.
// It returns ErrEmptyOverwrite instead of clearing a guarded list.
func (s *Store) Write(cfg *Config) error {
	snap := cfg.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.stopTimerLocked()
	s.pending = nil
	return s.writeLocked(snap, true)
}

// Flush writes a pending save now, if any.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close flushes pending changes and rejects further saves.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}

func (s *Store) flushPending() {
	s.mu.Lock()
	err := s.flushLocked()
	onError := s.onError
	s.mu.Unlock()

	if err != nil {
		s.log.Error("debounced config save failed", "path", s.path, "error", err)
		if onError != nil {
			onError(err)
		}
	}
}

func (s *Store) flushLocked() error {
	s.stopTimerLocked()
	if s.pending == nil {
		return nil
	}
	snap := s.pending
	s.pending = nil
	return s.writeLocked(snap, false)
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// writeLocked applies the empty-list guard and writes snap.
// In strict mode a guard hit fails the write; otherwise the previously
// persisted list is kept for that field.
func (s *Store) writeLocked(snap *Config, strict bool) error {
	if s.last != nil {
		for _, f := range guardedFields {
			if fieldLen(s.last, f) == 0 || fieldLen(snap, f) > 0 || s.allow[f] {
				continue
			}
			if strict {
				return fmt.Errorf("%s: %w", f, ErrEmptyOverwrite)
			}
			s.log.Warn("refusing to overwrite non-empty list with an empty one, keeping previous value",
				"field", string(f), "previous", fieldLen(s.last, f))
			restoreField(snap, s.last, f)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	// Permissions are consumed by any write attempt that gets this far.
	clear(s.allow)

	if bytes.Equal(data, s.lastBytes) {
		return nil
	}
	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", s.path, err)
	}
	s.last = snap
	s.lastBytes = data
	s.log.Debug("config saved", "path", s.path, "bytes", len(data))
	return nil
}

func fieldLen(c *Config, f Field) int {
	switch f {
	case FieldAgents:
		return len(c.Agents)
	case FieldSessions:
		return len(c.Sessions)
	case FieldRepos:
		return len(c.Repos)
	}
	return 0
}

func restoreField(dst, src *Config, f Field) {
	prev := src.Snapshot()
	switch f {
	case FieldAgents:
		dst.Agents = prev.Agents
	case FieldSessions:
		dst.Sessions = prev.Sessions
	case FieldRepos:
		dst.Repos = prev.Repos
	}
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
