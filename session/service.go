package session

import (
	"github.com/broomy/broomy-core/config"
	pexec "github.com/broomy/broomy-core/exec"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/logger"
)

// Saver persists the profile config. config.Store implements it.
type Saver interface {
	Save(cfg *config.Config) error
	AllowEmpty(field config.Field)
}

// Options are the dependencies of a SessionService.
type Options struct {
	Config       *config.Config
	Store        Saver
	ProfileID    string
	WorktreesDir string
}

// SessionService provides session operations with explicit dependency injection.
// Each instance holds its own executor so tests can swap in a mock.
type SessionService struct {
	executor     pexec.CommandExecutor
	git          *git.GitService
	cfg          *config.Config
	store        Saver
	profileID    string
	worktreesDir string
}

// NewSessionService creates a SessionService with the default real executor.
func NewSessionService(opts Options) *SessionService {
	return NewSessionServiceWithExecutor(pexec.NewRealExecutor(), opts)
}

// NewSessionServiceWithExecutor creates a SessionService with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewSessionServiceWithExecutor(exec pexec.CommandExecutor, opts Options) *SessionService {
	return &SessionService{
		executor:     exec,
		git:          git.NewGitServiceWithExecutor(exec),
		cfg:          opts.Config,
		store:        opts.Store,
		profileID:    opts.ProfileID,
		worktreesDir: opts.WorktreesDir,
	}
}

// Git returns the git service sharing this service's executor.
func (s *SessionService) Git() *git.GitService {
	return s.git
}

func (s *SessionService) save() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.cfg); err != nil {
		logger.WithComponent("session").Warn("failed to schedule config save", "error", err)
	}
}
