package session

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/logger"
)

const (
	// StatusChannel carries SessionStatus updates.
	StatusChannel = "session:status"

	maxConcurrentPolls = 4
	fallbackMainBranch = "main"
)

// Publisher receives status updates. events.Bus implements it.
type Publisher interface {
	Publish(channel string, payload any)
}

// SessionStatus is the latest polled state of one session.
type SessionStatus struct {
	SessionID     string            `json:"sessionId"`
	Git           *git.StatusResult `json:"git,omitempty"`
	BranchStatus  git.BranchStatus  `json:"branchStatus"`
	HasHadCommits bool              `json:"hasHadCommits"`
	PRState       git.PRState       `json:"prState,omitempty"`
	PRNumber      int               `json:"prNumber,omitempty"`
	PRURL         string            `json:"prUrl,omitempty"`
	Error         string            `json:"error,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// PollerOptions configure a Poller. Zero intervals select the defaults.
type PollerOptions struct {
	Interval   time.Duration
	PRInterval time.Duration
}

// Poller periodically refreshes git and PR state for active sessions.
type Poller struct {
	git        *git.GitService
	cfg        *config.Config
	store      Saver
	pub        Publisher
	interval   time.Duration
	prInterval time.Duration
	now        func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	latest map[string]*SessionStatus
	lastPR time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller over the sessions of cfg.
func NewPoller(g *git.GitService, cfg *config.Config, store Saver, pub Publisher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultPollInterval
	}
	if opts.PRInterval <= 0 {
		opts.PRInterval = config.DefaultPRPollInterval
	}
	return &Poller{
		git:        g,
		cfg:        cfg,
		store:      store,
		pub:        pub,
		interval:   opts.Interval,
		prInterval: opts.PRInterval,
		now:        time.Now,
		latest:     make(map[string]*SessionStatus),
	}
}

// Status runs git status for dir. Concurrent calls for the same directory
// share one git invocation, which no single caller's cancellation stops;
// each caller still returns as soon as its own ctx ends.
func (p *Poller) Status(ctx context.Context, dir string) (*git.StatusResult, error) {
	ch := p.group.DoChan(dir, func() (any, error) {
		return p.git.Status(context.WithoutCancel(ctx), dir)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*git.StatusResult), nil
	}
}

// Start polls immediately and then every interval until ctx ends or Stop
// is called.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			p.PollOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(p.done)
	logger.WithComponent("poller").Info("session poller started", "interval", p.interval, "prInterval", p.prInterval)
}

// Stop ends polling and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Latest returns the last polled status of a session.
func (p *Poller) Latest(id string) (*SessionStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.latest[id]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

// All returns the last polled status of every session.
func (p *Poller) All() []SessionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SessionStatus, 0, len(p.latest))
	for _, st := range p.latest {
		out = append(out, *st)
	}
	return out
}

// PollOnce refreshes every non-archived session once and schedules a config
// save when persistent session state changed.
func (p *Poller) PollOnce(ctx context.Context) {
	var active []config.Session
	for _, s := range p.cfg.GetSessions() {
		if !s.IsArchived {
			active = append(active, s)
		}
	}
	p.prune(active)
	if len(active) == 0 {
		return
	}

	var changed atomic.Bool
	if p.prDue() {
		if p.refreshPRStates(ctx, active) {
			changed.Store(true)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for _, s := range active {
		g.Go(func() error {
			if p.pollSession(gctx, s.ID) {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if changed.Load() && p.store != nil {
		if err := p.store.Save(p.cfg); err != nil {
			logger.WithComponent("poller").Warn("failed to schedule config save", "error", err)
		}
	}
}

// Refresh polls one session now, outside the regular schedule.
func (p *Poller) Refresh(ctx context.Context, id string) (*SessionStatus, error) {
	if p.cfg.GetSession(id) == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if p.pollSession(ctx, id) && p.store != nil {
		if err := p.store.Save(p.cfg); err != nil {
			return nil, err
		}
	}
	st, _ := p.Latest(id)
	return st, nil
}

// prune forgets statuses of sessions that are gone or archived.
func (p *Poller) prune(active []config.Session) {
	keep := make(map[string]bool, len(active))
	for _, s := range active {
		keep[s.ID] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.latest {
		if !keep[id] {
			delete(p.latest, id)
		}
	}
}

func (p *Poller) prDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !p.lastPR.IsZero() && now.Sub(p.lastPR) < p.prInterval {
		return false
	}
	p.lastPR = now
	return true
}

// refreshPRStates asks GitHub once per repository for the PRs of all
// session branches.
func (p *Poller) refreshPRStates(ctx context.Context, sessions []config.Session) bool {
	log := logger.WithComponent("poller")

	type repoBranches struct {
		dir      string
		branches []string
		sessions []config.Session
	}
	byRepo := make(map[string]*repoBranches)
	for _, s := range sessions {
		if s.Branch == "" {
			continue
		}
		key, dir := s.Directory, s.Directory
		if s.RepoID != "" {
			if repo := p.cfg.GetRepo(s.RepoID); repo != nil {
				key, dir = "repo:"+repo.ID, repo.RootDir
			}
		}
		rb := byRepo[key]
		if rb == nil {
			rb = &repoBranches{dir: dir}
			byRepo[key] = rb
		}
		rb.branches = append(rb.branches, s.Branch)
		rb.sessions = append(rb.sessions, s)
	}

	changed := false
	for _, rb := range byRepo {
		prs, err := p.git.GetBatchPRStates(ctx, rb.dir, rb.branches)
		if err != nil {
			log.Debug("PR state refresh failed", "dir", rb.dir, "error", err)
			continue
		}
		for _, s := range rb.sessions {
			pr, ok := prs[s.Branch]
			if !ok {
				continue
			}
			if p.cfg.SetPRState(s.ID, string(pr.State), pr.Number, pr.URL) {
				changed = true
			}
		}
	}
	return changed
}

// mainBranchFor returns the default branch of the session's repo.
func (p *Poller) mainBranchFor(s *config.Session) string {
	if s.RepoID != "" {
		if repo := p.cfg.GetRepo(s.RepoID); repo != nil && repo.DefaultBranch != "" {
			return repo.DefaultBranch
		}
	}
	return fallbackMainBranch
}

// pollSession refreshes one session and reports whether persistent state
// changed.
func (p *Poller) pollSession(ctx context.Context, id string) bool {
	s := p.cfg.GetSession(id)
	if s == nil {
		return false
	}
	log := logger.WithSession(id)

	res, err := p.Status(ctx, s.Directory)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug("git status failed", "dir", s.Directory, "error", err)
		}
		p.record(&SessionStatus{SessionID: id, BranchStatus: git.BranchStatus(s.Status), Error: err.Error(), UpdatedAt: p.now()})
		return false
	}

	changed := false
	mainBranch := p.mainBranchFor(s)
	if res.Ahead > 0 && res.Current != "" && res.Current != mainBranch {
		if p.cfg.MarkHasHadCommits(id) {
			log.Info("session branch has commits", "branch", res.Current)
			changed = true
		}
		s.HasHadCommits = true
	}

	in := git.BranchStatusInput{
		UncommittedFiles:   res.UncommittedCount(),
		Ahead:              res.Ahead,
		HasTrackingBranch:  res.Tracking != "",
		IsOnMainBranch:     res.Current == mainBranch,
		LastKnownPRState:   git.PRState(s.LastKnownPRState),
		PushedToMainCommit: s.PushedToMainCommit,
		HasHadCommits:      s.HasHadCommits,
	}
	localWork := in.IsOnMainBranch || in.UncommittedFiles > 0 || in.Ahead > 0
	if !localWork && in.PushedToMainCommit != "" {
		in.HeadCommit, _ = p.git.HeadCommit(ctx, s.Directory)
	}
	if !localWork && in.LastKnownPRState == "" && in.HasHadCommits {
		in.IsMergedToMain = p.git.IsMergedInto(ctx, s.Directory, "origin/"+mainBranch)
	}

	status := git.ComputeBranchStatus(in)
	if p.cfg.SetBranchStatus(id, string(status)) {
		changed = true
	}

	p.record(&SessionStatus{
		SessionID:     id,
		Git:           res,
		BranchStatus:  status,
		HasHadCommits: s.HasHadCommits,
		PRState:       in.LastKnownPRState,
		PRNumber:      s.PRNumber,
		PRURL:         s.PRURL,
		UpdatedAt:     p.now(),
	})
	return changed
}

// record stores st and publishes it when it differs from the previous poll.
func (p *Poller) record(st *SessionStatus) {
	p.mu.Lock()
	prev := p.latest[st.SessionID]
	p.latest[st.SessionID] = st
	p.mu.Unlock()

	if p.pub == nil {
		return
	}
	if prev != nil && sameStatus(prev, st) {
		return
	}
	p.pub.Publish(StatusChannel, *st)
}

func sameStatus(a, b *SessionStatus) bool {
	ac, bc := *a, *b
	ac.UpdatedAt, bc.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ac, bc)
}
