package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/logger"
	"github.com/broomy/broomy-core/paths"
)

// BasePoint specifies where to branch from when creating a new session
type BasePoint string

const (
	// BasePointOrigin branches from origin's default branch (after fetching)
	BasePointOrigin BasePoint = "origin"
	// BasePointHead branches from the repo's current HEAD
	BasePointHead BasePoint = "head"
)

// maxDerivedBranchLength bounds branch names generated from session names.
const maxDerivedBranchLength = 50

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// CreateOptions describes a new session.
type CreateOptions struct {
	RepoID    string    `json:"repoId"`
	Name      string    `json:"name,omitempty"`
	Branch    string    `json:"branch,omitempty"` // Derived from Name when empty
	AgentID   string    `json:"agentId,omitempty"`
	BasePoint BasePoint `json:"basePoint,omitempty"`
}

// SetupStep is the outcome of one setup command run in a new worktree.
type SetupStep struct {
	Command string `json:"command"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	Session    config.Session `json:"session"`
	BaseBranch string         `json:"baseBranch"`
	Setup      []SetupStep    `json:"setup,omitempty"`
}

// DeleteOptions control what Delete removes besides the session entry.
type DeleteOptions struct {
	RemoveWorktree bool `json:"removeWorktree"`
	DeleteBranch   bool `json:"deleteBranch"`
}

// BranchFromName turns a session name into a branch name: lowercase words
// joined by dashes.
func BranchFromName(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxDerivedBranchLength {
		slug = strings.TrimRight(slug[:maxDerivedBranchLength], "-")
	}
	return slug
}

// worktreeDirName flattens a branch name into one path element.
func worktreeDirName(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// WorktreePath returns where the worktree of branch in repo is created.
func (s *SessionService) WorktreePath(repo config.ManagedRepo, branch string) string {
	return filepath.Join(s.worktreesDir, repo.Name, worktreeDirName(branch))
}

// Create creates a new branch and worktree for a managed repo and records
// the session. Setup command failures are reported in the result, not as an
// error: the worktree is usable either way.
func (s *SessionService) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	log := logger.WithComponent("session")
	startTime := time.Now()

	repo := s.cfg.GetRepo(opts.RepoID)
	if repo == nil {
		return nil, fmt.Errorf("repo not found: %s", opts.RepoID)
	}

	id := uuid.New().String()
	branch := opts.Branch
	if branch == "" {
		branch = BranchFromName(opts.Name)
	}
	if branch == "" {
		branch = "session-" + id[:8]
	}
	if err := git.ValidateBranchName(branch); err != nil {
		return nil, err
	}
	if s.git.BranchExists(ctx, repo.RootDir, branch) {
		return nil, fmt.Errorf("branch already exists: %s", branch)
	}

	worktreePath := s.WorktreePath(*repo, branch)
	if _, err := os.Stat(worktreePath); err == nil {
		return nil, fmt.Errorf("worktree directory already exists: %s", worktreePath)
	}

	log.Info("creating new session",
		"repo", repo.Name,
		"branch", branch,
		"basePoint", string(opts.BasePoint))

	startPoint, baseBranch := s.startPoint(ctx, *repo, opts.BasePoint)
	if err := s.git.AddWorktree(ctx, repo.RootDir, worktreePath, branch, startPoint); err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = branch
	}
	sess := config.Session{
		ID:        id,
		Name:      name,
		Directory: worktreePath,
		Branch:    branch,
		AgentID:   s.agentFor(opts.AgentID, *repo, worktreePath),
		RepoID:    repo.ID,
		Status:    string(git.BranchInProgress),
		Panels:    config.DefaultPanels(),
		CreatedAt: time.Now(),
	}
	if err := s.cfg.AddSession(sess); err != nil {
		return nil, err
	}
	s.save()

	result := &CreateResult{
		Session:    *s.cfg.GetSession(id),
		BaseBranch: baseBranch,
		Setup:      s.runSetup(ctx, *repo, worktreePath),
	}

	log.Info("session created successfully",
		"sessionID", id,
		"name", name,
		"baseBranch", baseBranch,
		"duration", time.Since(startTime))
	return result, nil
}

// startPoint picks the commit a new branch starts from, returning it and the
// branch name shown as the base.
func (s *SessionService) startPoint(ctx context.Context, repo config.ManagedRepo, base BasePoint) (string, string) {
	log := logger.WithComponent("session")

	if base == BasePointHead {
		current, err := s.git.GetCurrentBranch(ctx, repo.RootDir)
		if err != nil {
			current = "HEAD"
		}
		return "HEAD", current
	}

	defaultBranch := repo.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = s.git.GetDefaultBranch(ctx, repo.RootDir)
	}
	if s.git.HasRemoteOrigin(ctx, repo.RootDir) {
		// Offline creation still works from local refs.
		_ = s.git.FetchOrigin(ctx, repo.RootDir)
		if s.git.RemoteBranchExists(ctx, repo.RootDir, "origin/"+defaultBranch) {
			return "origin/" + defaultBranch, defaultBranch
		}
	}
	if s.git.BranchExists(ctx, repo.RootDir, defaultBranch) {
		return defaultBranch, defaultBranch
	}
	log.Info("default branch not found, falling back to HEAD", "defaultBranch", defaultBranch)
	return "HEAD", defaultBranch
}

// agentFor resolves the agent of a new session: the explicit choice, then
// the repo's default, then default_agent from the repo settings file.
func (s *SessionService) agentFor(explicit string, repo config.ManagedRepo, worktreePath string) string {
	if explicit != "" {
		return explicit
	}
	if repo.DefaultAgentID != "" && s.cfg.GetAgent(repo.DefaultAgentID) != nil {
		return repo.DefaultAgentID
	}
	rs, err := config.LoadRepoSettings(worktreePath)
	if err != nil || rs == nil || rs.DefaultAgent == "" {
		return ""
	}
	for _, a := range s.cfg.GetAgents() {
		if a.ID == rs.DefaultAgent || a.Name == rs.DefaultAgent {
			return a.ID
		}
	}
	return ""
}

// runSetup runs the repo's setup commands and then the profile init script
// inside a new worktree.
func (s *SessionService) runSetup(ctx context.Context, repo config.ManagedRepo, dir string) []SetupStep {
	log := logger.WithComponent("session")
	var commands []string

	rs, err := config.LoadRepoSettings(dir)
	if err != nil {
		log.Warn("failed to load repo settings", "dir", dir, "error", err)
		return []SetupStep{{Command: config.RepoSettingsPath(dir), Error: err.Error()}}
	}
	if rs != nil {
		commands = append(commands, rs.Setup...)
	}

	if script, err := paths.InitScriptPath(s.profileID, repo.ID); err == nil {
		if _, statErr := os.Stat(script); statErr == nil {
			commands = append(commands, "sh "+shellQuote(script))
		}
	}

	var steps []SetupStep
	for _, command := range commands {
		step := SetupStep{Command: command}
		output, err := s.executor.CombinedOutput(ctx, dir, "sh", "-c", command)
		step.Output = strings.TrimSpace(string(output))
		if err != nil {
			step.Error = err.Error()
			log.Warn("setup command failed", "dir", dir, "command", command, "output", step.Output, "error", err)
		}
		steps = append(steps, step)
	}
	return steps
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// AddExisting registers dir as a session without creating anything on disk.
func (s *SessionService) AddExisting(ctx context.Context, dir, agentID string) (*config.Session, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	if existing := s.cfg.FindSessionByDir(abs); existing != nil {
		return nil, fmt.Errorf("a session already uses %s: %s", abs, existing.Name)
	}

	sess := config.Session{
		ID:        uuid.New().String(),
		Name:      filepath.Base(abs),
		Directory: abs,
		AgentID:   agentID,
		Status:    string(git.BranchInProgress),
		Panels:    config.DefaultPanels(),
		CreatedAt: time.Now(),
	}
	if git.IsGitRepo(abs) {
		if branch, err := s.git.GetCurrentBranch(ctx, abs); err == nil {
			sess.Branch = branch
		}
		if root, err := git.RepoRoot(abs); err == nil {
			if repo := s.cfg.FindRepoByDir(root); repo != nil {
				sess.RepoID = repo.ID
			}
		}
	}

	if err := s.cfg.AddSession(sess); err != nil {
		return nil, err
	}
	s.save()
	logger.WithComponent("session").Info("added existing directory as session", "sessionID", sess.ID, "dir", abs)
	return s.cfg.GetSession(sess.ID), nil
}

// Delete removes a session. With RemoveWorktree the worktree is removed from
// its repo first; with DeleteBranch the branch is deleted too. A failed
// worktree removal keeps the session.
func (s *SessionService) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	log := logger.WithComponent("session")

	sess := s.cfg.GetSession(id)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	var repo *config.ManagedRepo
	if sess.RepoID != "" {
		repo = s.cfg.GetRepo(sess.RepoID)
	}

	if opts.RemoveWorktree && repo != nil && !config.SamePath(sess.Directory, repo.RootDir) {
		if err := s.git.RemoveWorktree(ctx, repo.RootDir, sess.Directory, true); err != nil {
			return err
		}
	}
	if opts.DeleteBranch && repo != nil && sess.Branch != "" && sess.Branch != repo.DefaultBranch {
		if err := s.git.DeleteBranch(ctx, repo.RootDir, sess.Branch, true); err != nil {
			log.Warn("failed to delete branch", "branch", sess.Branch, "error", err)
		}
	}

	s.cfg.RemoveSession(id)
	if s.store != nil && len(s.cfg.GetSessions()) == 0 {
		s.store.AllowEmpty(config.FieldSessions)
	}
	s.save()
	log.Info("deleted session", "sessionID", id, "removeWorktree", opts.RemoveWorktree, "deleteBranch", opts.DeleteBranch)
	return nil
}

// Archive hides a session from polling.
func (s *SessionService) Archive(id string) error {
	return s.setArchived(id, true)
}

// Unarchive restores an archived session.
func (s *SessionService) Unarchive(id string) error {
	return s.setArchived(id, false)
}

func (s *SessionService) setArchived(id string, archived bool) error {
	if s.cfg.GetSession(id) == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.cfg.SetArchived(id, archived) {
		s.save()
	}
	return nil
}

// TogglePanel flips a panel of a session and saves the result.
func (s *SessionService) TogglePanel(id string, panel config.Panel) (bool, error) {
	visible, err := s.cfg.TogglePanel(id, panel)
	if err != nil {
		return false, err
	}
	s.save()
	return visible, nil
}
