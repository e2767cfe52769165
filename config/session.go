package config

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Panel names a togglable region of a session's window.
type Panel string

const (
	PanelSidebar      Panel = "sidebar"
	PanelExplorer     Panel = "explorer"
	PanelFileViewer   Panel = "fileViewer"
	PanelAgent        Panel = "agentTerminal"
	PanelUserTerminal Panel = "userTerminal"
	PanelReview       Panel = "review"
	PanelSettings     Panel = "settings"
)

// AllPanels lists every known panel in toolbar order.
var AllPanels = []Panel{
	PanelSidebar, PanelExplorer, PanelFileViewer, PanelAgent,
	PanelUserTerminal, PanelReview, PanelSettings,
}

// ValidPanel reports whether p is a known panel.
func ValidPanel(p Panel) bool {
	return slices.Contains(AllPanels, p)
}

// DefaultPanels returns the panel visibility of a new session.
func DefaultPanels() map[string]bool {
	return map[string]bool{
		string(PanelSidebar):      true,
		string(PanelExplorer):     false,
		string(PanelFileViewer):   false,
		string(PanelAgent):        true,
		string(PanelUserTerminal): false,
		string(PanelReview):       false,
		string(PanelSettings):     false,
	}
}

// LayoutSizes holds the resizable panel dimensions, in pixels.
type LayoutSizes struct {
	ExplorerWidth      int `json:"explorerWidth"`
	FileViewerSize     int `json:"fileViewerSize"`
	UserTerminalHeight int `json:"userTerminalHeight"`
	DiffPanelWidth     int `json:"diffPanelWidth"`
	ReviewPanelWidth   int `json:"reviewPanelWidth"`
}

func (l LayoutSizes) withDefaults() LayoutSizes {
	d := DefaultLayout()
	if l.ExplorerWidth <= 0 {
		l.ExplorerWidth = d.ExplorerWidth
	}
	if l.FileViewerSize <= 0 {
		l.FileViewerSize = d.FileViewerSize
	}
	if l.UserTerminalHeight <= 0 {
		l.UserTerminalHeight = d.UserTerminalHeight
	}
	if l.DiffPanelWidth <= 0 {
		l.DiffPanelWidth = d.DiffPanelWidth
	}
	if l.ReviewPanelWidth <= 0 {
		l.ReviewPanelWidth = d.ReviewPanelWidth
	}
	return l
}

// PR states as reported by gh.
const (
	PRStateOpen   = "OPEN"
	PRStateMerged = "MERGED"
	PRStateClosed = "CLOSED"
)

// Session is a working context: a directory on a branch with an optional agent.
type Session struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Directory          string          `json:"directory"`
	Branch             string          `json:"branch"`
	AgentID            string          `json:"agentId,omitempty"`
	RepoID             string          `json:"repoId,omitempty"`
	Status             string          `json:"status,omitempty"` // Last computed branch status
	Panels             map[string]bool `json:"panelVisibility"`
	Layout             LayoutSizes     `json:"layoutSizes"`
	FileViewerPosition string          `json:"fileViewerPosition,omitempty"` // "top" or "left"
	ExplorerFilter     string          `json:"explorerFilter,omitempty"`
	LastKnownPRState   string          `json:"lastKnownPrState,omitempty"`
	PRNumber           int             `json:"prNumber,omitempty"`
	PRURL              string          `json:"prUrl,omitempty"`
	HasHadCommits      bool            `json:"hasHadCommits,omitempty"`
	PushedToMainAt     *time.Time      `json:"pushedToMainAt,omitempty"`
	PushedToMainCommit string          `json:"pushedToMainCommit,omitempty"`
	IsArchived         bool            `json:"isArchived,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func (s Session) clone() Session {
	s.Panels = maps.Clone(s.Panels)
	if s.PushedToMainAt != nil {
		t := *s.PushedToMainAt
		s.PushedToMainAt = &t
	}
	return s
}

// PanelVisible reports whether a panel is shown, falling back to the default.
func (s *Session) PanelVisible(p Panel) bool {
	if v, ok := s.Panels[string(p)]; ok {
		return v
	}
	return DefaultPanels()[string(p)]
}

// AddSession adds a new session
func (c *Config) AddSession(session Session) error {
	if session.ID == "" || session.Directory == "" {
		return fmt.Errorf("session needs an ID and a directory")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.Sessions {
		if s.ID == session.ID {
			return fmt.Errorf("duplicate session ID: %s", session.ID)
		}
	}
	if session.Panels == nil {
		session.Panels = DefaultPanels()
	}
	if session.Layout == (LayoutSizes{}) {
		session.Layout = c.Layout
	}
	session.Layout = session.Layout.withDefaults()
	c.Sessions = append(c.Sessions, session.clone())
	return nil
}

// RemoveSession removes a session by ID
func (c *Config) RemoveSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.Sessions, func(s Session) bool { return s.ID == id })
	if idx < 0 {
		return false
	}
	c.Sessions = slices.Delete(c.Sessions, idx, idx+1)
	return true
}

// GetSession returns a copy of the session with the given ID, or nil.
func (c *Config) GetSession(id string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.Sessions {
		if s.ID == id {
			cp := s.clone()
			return &cp
		}
	}
	return nil
}

// GetSessions returns a copy of the sessions slice
func (c *Config) GetSessions() []Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sessions := make([]Session, len(c.Sessions))
	for i, s := range c.Sessions {
		sessions[i] = s.clone()
	}
	return sessions
}

// FindSessionByDir returns the session working in dir, or nil.
func (c *Config) FindSessionByDir(dir string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.Sessions {
		if SamePath(s.Directory, dir) {
			cp := s.clone()
			return &cp
		}
	}
	return nil
}

// UpdateSession applies fn to the session with the given ID under the write
// lock. fn reports whether it changed anything; the result is returned.
func (c *Config) UpdateSession(id string, fn func(*Session) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			return fn(&c.Sessions[i])
		}
	}
	return false
}

// RenameSession updates the display name of a session
func (c *Config) RenameSession(id, name string) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		if s.Name == name {
			return false
		}
		s.Name = name
		return true
	})
}

// MarkHasHadCommits records that the session's branch has carried commits.
// Returns true only on the first call for a session.
func (c *Config) MarkHasHadCommits(id string) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		if s.HasHadCommits {
			return false
		}
		s.HasHadCommits = true
		return true
	})
}

// SetPRState stores the last known PR state, number and URL.
func (c *Config) SetPRState(id, state string, number int, url string) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		if s.LastKnownPRState == state && s.PRNumber == number && s.PRURL == url {
			return false
		}
		s.LastKnownPRState = state
		s.PRNumber = number
		s.PRURL = url
		return true
	})
}

// SetBranchStatus stores the last computed branch status.
func (c *Config) SetBranchStatus(id, status string) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		if s.Status == status {
			return false
		}
		s.Status = status
		return true
	})
}

// RecordPushToMain remembers the commit pushed straight to the default branch.
func (c *Config) RecordPushToMain(id, commit string, at time.Time) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		s.PushedToMainCommit = commit
		s.PushedToMainAt = &at
		return true
	})
}

// SetArchived archives or restores a session.
func (c *Config) SetArchived(id string, archived bool) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		if s.IsArchived == archived {
			return false
		}
		s.IsArchived = archived
		return true
	})
}

// TogglePanel flips a panel's visibility and returns the new value.
func (c *Config) TogglePanel(id string, panel Panel) (bool, error) {
	if !ValidPanel(panel) {
		return false, fmt.Errorf("unknown panel: %s", panel)
	}

	var visible bool
	found := c.UpdateSession(id, func(s *Session) bool {
		visible = !s.PanelVisible(panel)
		if s.Panels == nil {
			s.Panels = DefaultPanels()
		}
		s.Panels[string(panel)] = visible
		return true
	})
	if !found {
		return false, fmt.Errorf("session not found: %s", id)
	}
	return visible, nil
}

// SetSessionLayout stores a session's panel sizes.
func (c *Config) SetSessionLayout(id string, layout LayoutSizes) bool {
	return c.UpdateSession(id, func(s *Session) bool {
		s.Layout = layout.withDefaults()
		return true
	})
}
