package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/broomy/broomy-core/paths"
)

// Profile is a named, isolated set of agents, sessions and repos.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Profiles is the profiles.json index.
type Profiles struct {
	Profiles      []Profile `json:"profiles"`
	LastProfileID string    `json:"lastProfileId"`

	mu       sync.RWMutex
	filePath string
}

func defaultProfiles() []Profile {
	return []Profile{{ID: paths.DefaultProfileID, Name: "Default", Color: "#3b82f6"}}
}

// LoadProfiles reads the profile index at path. A missing file yields the
// single default profile.
func LoadProfiles(path string) (*Profiles, error) {
	p := &Profiles{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse profiles %s: %w", path, err)
		}
	}

	if len(p.Profiles) == 0 {
		p.Profiles = defaultProfiles()
	}
	if p.find(p.LastProfileID) < 0 {
		p.LastProfileID = p.Profiles[0].ID
	}
	return p, nil
}

// Save writes the profile index.
func (p *Profiles) Save() error {
	p.mu.RLock()
	data, err := json.MarshalIndent(p, "", "  ")
	path := p.filePath
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// List returns a copy of the profiles.
func (p *Profiles) List() []Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.Profiles)
}

// Last returns the ID of the profile used most recently.
func (p *Profiles) Last() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.LastProfileID
}

// Get returns the profile with the given ID, or nil.
func (p *Profiles) Get(id string) *Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i := p.find(id); i >= 0 {
		prof := p.Profiles[i]
		return &prof
	}
	return nil
}

// AddProfile registers a new profile.
func (p *Profiles) AddProfile(prof Profile) error {
	if err := paths.ValidateProfileID(prof.ID); err != nil {
		return err
	}
	if prof.Name == "" {
		prof.Name = prof.ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.find(prof.ID) >= 0 {
		return fmt.Errorf("profile already exists: %s", prof.ID)
	}
	p.Profiles = append(p.Profiles, prof)
	return nil
}

// RemoveProfile deletes a profile from the index. The last remaining
// profile cannot be removed. Profile files on disk are left alone.
func (p *Profiles) RemoveProfile(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.find(id)
	if i < 0 {
		return fmt.Errorf("profile not found: %s", id)
	}
	if len(p.Profiles) == 1 {
		return fmt.Errorf("cannot remove the last profile")
	}
	p.Profiles = slices.Delete(p.Profiles, i, i+1)
	if p.LastProfileID == id {
		p.LastProfileID = p.Profiles[0].ID
	}
	return nil
}

// SetLastProfile records the active profile.
func (p *Profiles) SetLastProfile(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.find(id) < 0 {
		return fmt.Errorf("profile not found: %s", id)
	}
	p.LastProfileID = id
	return nil
}

// find returns the index of id. Caller must hold the lock.
func (p *Profiles) find(id string) int {
	return slices.IndexFunc(p.Profiles, func(pr Profile) bool { return pr.ID == id })
}
