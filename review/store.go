package review

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/logger"
)

const (
	// Dir is the per-session artifact directory.
	Dir = ".broomy"

	ReviewFile   = "review.json"
	CommentsFile = "comments.json"
	HistoryFile  = "review-history.json"

	// MaxHistory bounds review-history.json.
	MaxHistory = 20
)

// ErrNoPR is returned by PushComments when the session branch has no pull request.
var ErrNoPR = errors.New("no pull request for this branch")

// Git is the subset of git.GitService the store needs.
type Git interface {
	GitPath(ctx context.Context, dir, name string) (string, error)
	PRStatus(ctx context.Context, dir string) *git.PRInfo
	SubmitDraftReview(ctx context.Context, dir string, number int, comments []git.DraftComment) (string, error)
}

// Store reads and writes the review artifacts of one session directory.
type Store struct {
	dir string
	git Git
	mu  sync.Mutex
}

// NewStore creates a store for the session rooted at dir.
func NewStore(dir string, g Git) *Store {
	return &Store{dir: dir, git: g}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, Dir, name)
}

// readJSON decodes file name into v. It reports false when the file does
// not exist.
func (s *Store) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return true, nil
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return config.WriteFileAtomic(s.path(name), append(data, '\n'), 0o644)
}

// LoadReview returns the current review, or nil when none has been written.
func (s *Store) LoadReview() (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadReview()
}

func (s *Store) loadReview() (*Data, error) {
	var d Data
	found, err := s.readJSON(ReviewFile, &d)
	if err != nil || !found {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.ensureSlices()
	return &d, nil
}

// SaveReview writes d as the current review, stamping the schema version
// and generation time when missing.
func (s *Store) SaveReview(d *Data) error {
	if d == nil {
		return fmt.Errorf("review data is required")
	}
	if d.Version == 0 {
		d.Version = SchemaVersion
	}
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = time.Now().UTC()
	}
	if err := d.Validate(); err != nil {
		return err
	}
	d.ensureSlices()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeJSON(ReviewFile, d); err != nil {
		return err
	}
	logger.WithComponent("review").Info("saved review", "dir", s.dir, "issues", len(d.PotentialIssues))
	return nil
}

// LoadComments returns all pending comments, oldest first.
func (s *Store) LoadComments() ([]PendingComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadComments()
}

func (s *Store) loadComments() ([]PendingComment, error) {
	comments := []PendingComment{}
	if _, err := s.readJSON(CommentsFile, &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []PendingComment{}
	}
	return comments, nil
}

// AddComment records a new pending comment on file at line.
func (s *Store) AddComment(file string, line int, body string) (PendingComment, error) {
	file = filepath.ToSlash(strings.TrimSpace(file))
	if file == "" {
		return PendingComment{}, fmt.Errorf("comment file is required")
	}
	if line < 1 {
		return PendingComment{}, fmt.Errorf("comment line must be positive, got %d", line)
	}
	if strings.TrimSpace(body) == "" {
		return PendingComment{}, fmt.Errorf("comment body cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := s.loadComments()
	if err != nil {
		return PendingComment{}, err
	}
	c := PendingComment{
		ID:        uuid.New().String(),
		File:      file,
		Line:      line,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	comments = append(comments, c)
	if err := s.writeJSON(CommentsFile, comments); err != nil {
		return PendingComment{}, err
	}
	return c, nil
}

// DeleteComment removes a comment. Returns false when id is unknown.
func (s *Store) DeleteComment(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comments, err := s.loadComments()
	if err != nil {
		return false, err
	}
	kept := comments[:0]
	for _, c := range comments {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(comments) {
		return false, nil
	}
	return true, s.writeJSON(CommentsFile, kept)
}

// MarkPushed stamps the given comments as pushed at the given time.
func (s *Store) MarkPushed(ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markPushed(ids, at)
}

func (s *Store) markPushed(ids []string, at time.Time) error {
	comments, err := s.loadComments()
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	stamp := at.UTC()
	for i := range comments {
		if want[comments[i].ID] {
			comments[i].PushedAt = &stamp
		}
	}
	return s.writeJSON(CommentsFile, comments)
}

// PushResult describes a PushComments call.
type PushResult struct {
	PRNumber  int    `json:"prNumber"`
	Pushed    int    `json:"pushed"`
	ReviewURL string `json:"reviewUrl,omitempty"`
}

// PushComments submits every unpushed comment as one draft review on the
// pull request of the session branch, then marks them pushed.
func (s *Store) PushComments(ctx context.Context) (*PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comments, err := s.loadComments()
	if err != nil {
		return nil, err
	}
	var draft []git.DraftComment
	var ids []string
	for _, c := range comments {
		if c.Pushed() {
			continue
		}
		draft = append(draft, git.DraftComment{Path: c.File, Line: c.Line, Body: c.Body})
		ids = append(ids, c.ID)
	}
	if len(draft) == 0 {
		return &PushResult{}, nil
	}

	pr := s.git.PRStatus(ctx, s.dir)
	if pr == nil || pr.Number == 0 {
		return nil, ErrNoPR
	}

	url, err := s.git.SubmitDraftReview(ctx, s.dir, pr.Number, draft)
	if err != nil {
		return nil, err
	}
	if err := s.markPushed(ids, time.Now()); err != nil {
		return nil, fmt.Errorf("comments were pushed but could not be marked: %w", err)
	}

	logger.WithComponent("review").Info("pushed review comments", "dir", s.dir, "pr", pr.Number, "count", len(ids))
	return &PushResult{PRNumber: pr.Number, Pushed: len(ids), ReviewURL: url}, nil
}

// LoadHistory returns archived reviews, newest first.
func (s *Store) LoadHistory() (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadHistory()
}

func (s *Store) loadHistory() (*History, error) {
	h := &History{}
	if _, err := s.readJSON(HistoryFile, h); err != nil {
		return nil, err
	}
	if h.Reviews == nil {
		h.Reviews = []HistoryEntry{}
	}
	return h, nil
}

// ArchiveReview moves the current review into the history (keeping the
// newest MaxHistory entries) and removes review.json. It is a no-op when
// there is no current review.
func (s *Store) ArchiveReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadReview()
	if err != nil || current == nil {
		return err
	}
	h, err := s.loadHistory()
	if err != nil {
		return err
	}

	entry := HistoryEntry{
		HeadCommit:       current.HeadCommit,
		Timestamp:        current.GeneratedAt,
		RequestedChanges: current.RequestedChanges,
	}
	if entry.RequestedChanges == nil {
		entry.RequestedChanges = []RequestedChange{}
	}
	h.Reviews = append([]HistoryEntry{entry}, h.Reviews...)
	if len(h.Reviews) > MaxHistory {
		h.Reviews = h.Reviews[:MaxHistory]
	}
	if err := s.writeJSON(HistoryFile, h); err != nil {
		return err
	}
	if err := os.Remove(s.path(ReviewFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", ReviewFile, err)
	}
	return nil
}

// Clear deletes the current review and all comments. History is kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{ReviewFile, CommentsFile} {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// EnsureExcluded adds the artifact directory to the repository's
// info/exclude so review files never show up as untracked changes.
func (s *Store) EnsureExcluded(ctx context.Context) error {
	exclude, err := s.git.GitPath(ctx, s.dir, "info/exclude")
	if err != nil {
		return err
	}

	pattern := "/" + Dir + "/"
	existing, err := os.ReadFile(exclude)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", exclude, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == pattern || line == Dir+"/" || line == Dir {
			return nil
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(pattern + "\n")
	if err := config.WriteFileAtomic(exclude, buf.Bytes(), 0o644); err != nil {
		return err
	}
	logger.WithComponent("review").Debug("added review dir to git exclude", "path", exclude)
	return nil
}
