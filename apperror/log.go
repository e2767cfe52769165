package apperror

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/broomy/broomy-core/logger"
)

// MaxLogEntries bounds the error log; the oldest entries are evicted first.
const MaxLogEntries = 50

// Scope says whether an error belongs to the app or to a single session.
type Scope string

const (
	ScopeApp     Scope = "app"
	ScopeSession Scope = "session"
)

// AppError is a categorized, timestamped error shown to the user.
type AppError struct {
	ID             string    `json:"id"`
	Message        string    `json:"message"`        // Raw failure text
	DisplayMessage string    `json:"displayMessage"` // Friendly text from Categorize
	Category       Category  `json:"category"`
	Suggestion     string    `json:"suggestion,omitempty"`
	Scope          Scope     `json:"scope"`
	SessionID      string    `json:"sessionId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Dismissed      bool      `json:"dismissed"`
}

// New categorizes err and wraps it in an AppError. A non-empty sessionID
// scopes the error to that session.
func New(err error, sessionID string) AppError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c := Categorize(msg)
	scope := ScopeApp
	if sessionID != "" {
		scope = ScopeSession
	}
	return AppError{
		ID:             uuid.New().String(),
		Message:        msg,
		DisplayMessage: c.Message,
		Category:       c.Category,
		Suggestion:     c.Suggestion,
		Scope:          scope,
		SessionID:      sessionID,
		Timestamp:      time.Now(),
	}
}

// Log is the capped in-memory error log. It is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []AppError // oldest first
}

// NewLog creates an empty error log.
func NewLog() *Log {
	return &Log{}
}

// Add records e, evicting the oldest entries beyond MaxLogEntries.
func (l *Log) Add(e AppError) AppError {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - MaxLogEntries; over > 0 {
		l.entries = append([]AppError(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	logger.WithComponent("errors").Warn("error recorded",
		"id", e.ID, "category", e.Category, "scope", e.Scope, "sessionID", e.SessionID, "message", e.Message)
	return e
}

// Record categorizes err and adds it to the log.
func (l *Log) Record(err error, sessionID string) AppError {
	return l.Add(New(err, sessionID))
}

// List returns all entries, newest first.
func (l *Log) List() []AppError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AppError, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Active returns the entries that have not been dismissed, newest first.
func (l *Log) Active() []AppError {
	all := l.List()
	out := all[:0]
	for _, e := range all {
		if !e.Dismissed {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry with id.
func (l *Log) Get(id string) (AppError, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return AppError{}, false
}

// Dismiss hides an entry from Active. Returns false when id is unknown.
func (l *Log) Dismiss(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Dismissed = true
			return true
		}
	}
	return false
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// ClearSession removes the entries scoped to sessionID.
func (l *Log) ClearSession(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
