package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNoSession is returned when an operation needs a live session and none is set.
	ErrNoSession = errors.New("no active session")
	// ErrExpired is returned by [Manager.Restore] and [Manager.Resume] for a session
	// past its absolute deadline.
	ErrExpired = errors.New("session expired")
	// ErrSuperseded is returned by [Manager.Refresh] when the session was replaced or
	// cleared while the refresh was in flight. The refreshed pair is discarded.
	ErrSuperseded = errors.New("session superseded during refresh")
)

// DefaultRefreshRatio is the fraction of the token lifetime after which a refresh fires.
const DefaultRefreshRatio = 0.75

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context, refreshToken string) (Session, error)

// RefreshSession calls f.
func (f RefresherFunc) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	return f(ctx, refreshToken)
}

// Config configures a [Manager]. Zero fields take defaults.
type Config struct {
	// RefreshRatio is the fraction of ExpiresIn after which the timer fires.
	RefreshRatio float64
	// RefreshTimeout bounds a timer-driven refresh call. Zero means no bound.
	RefreshTimeout time.Duration
	Clock          Clock
	Store          Store
	Logger         *slog.Logger
}

// Manager holds the live session and its refresh timer. It is safe for concurrent use.
type Manager struct {
	refresher Refresher
	clock     Clock
	store     Store
	logger    *slog.Logger
	ratio     float64
	timeout   time.Duration

	mu      sync.Mutex
	current Session
	present bool
	timer   Timer
	// gen increments on every SetSession and Clear; a timer or in-flight refresh
	// carrying an older generation is ignored.
	gen uint64
	// inflight is the refresh currently exchanging the token of generation
	// inflight.gen. A refresh token is presented at most once.
	inflight *refreshCall

	hooksMu     sync.RWMutex
	onRefreshed func(Session)
	onFailure   func(Session, error)
}

type refreshCall struct {
	gen  uint64
	done chan struct{}
	next Session
	err  error
}

// NewManager creates a [Manager] that refreshes through r.
func NewManager(r Refresher, cfg Config) *Manager {
	if cfg.RefreshRatio <= 0 || cfg.RefreshRatio >= 1 {
		cfg.RefreshRatio = DefaultRefreshRatio
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		refresher: r,
		clock:     cfg.Clock,
		store:     cfg.Store,
		logger:    cfg.Logger,
		ratio:     cfg.RefreshRatio,
		timeout:   cfg.RefreshTimeout,
	}
}

// OnRefreshed registers fn to run after every successful refresh.
func (m *Manager) OnRefreshed(fn func(Session)) {
	m.hooksMu.Lock()
	m.onRefreshed = fn
	m.hooksMu.Unlock()
}

// OnFailure registers fn to run when a timer-driven refresh fails. fn receives the
// session whose refresh failed; the session stays set but no timer is re-armed, so
// fn decides what happens next. Manual [Manager.Refresh] callers get the error
// directly instead.
func (m *Manager) OnFailure(fn func(Session, error)) {
	m.hooksMu.Lock()
	m.onFailure = fn
	m.hooksMu.Unlock()
}

// SetSession replaces the live session, cancels any pending timer and arms a new
// one at ExpiresIn × RefreshRatio from now. The pair is persisted best-effort.
func (m *Manager) SetSession(ctx context.Context, s Session) {
	delay := time.Duration(float64(s.Lifetime()) * m.ratio)

	m.mu.Lock()
	m.installLocked(s, delay)
	m.mu.Unlock()

	m.persist(ctx, s)
}

// Resume installs a session issued earlier (restored from a store, or saved before
// impersonation) and arms the timer relative to its ExpiresAt. A session whose
// refresh point has already passed is refreshed immediately.
func (m *Manager) Resume(ctx context.Context, s Session) error {
	now := m.clock.Now()
	if s.Expired(now) {
		return ErrExpired
	}

	delay := s.RefreshAt(m.ratio).Sub(now)
	if delay > 0 {
		m.mu.Lock()
		m.installLocked(s, delay)
		m.mu.Unlock()
		m.persist(ctx, s)
		return nil
	}

	m.mu.Lock()
	m.stopLocked()
	m.gen++
	m.current, m.present = s, true
	m.mu.Unlock()

	_, err := m.Refresh(ctx)
	return err
}

func (m *Manager) installLocked(s Session, delay time.Duration) {
	m.stopLocked()
	m.gen++
	m.current, m.present = s, true

	gen := m.gen
	m.timer = m.clock.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) fire(gen uint64) {
	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	failed, err := m.refresh(ctx, &gen)
	if err == nil || errors.Is(err, ErrSuperseded) {
		return
	}

	m.hooksMu.RLock()
	fn := m.onFailure
	m.hooksMu.RUnlock()
	if fn != nil {
		fn(failed, err)
	}
}

// Refresh exchanges the stored refresh token for a new session and re-arms the
// timer. On failure the error is returned and nothing is retried or rescheduled.
// A call made while another refresh of the same session is in flight waits for
// that exchange and returns its outcome.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	next, err := m.refresh(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	return next, nil
}

// refresh returns the new session on success, or the session whose refresh failed
// alongside the error. timerGen is set when the refresh timer of that generation
// fired; such a refresh drops out with ErrSuperseded if the session changed or
// another refresh already owns the token.
func (m *Manager) refresh(ctx context.Context, timerGen *uint64) (Session, error) {
	m.mu.Lock()
	if timerGen != nil && (*timerGen != m.gen || !m.present) {
		m.mu.Unlock()
		return Session{}, ErrSuperseded
	}
	if !m.present {
		m.mu.Unlock()
		return Session{}, ErrNoSession
	}
	if call := m.inflight; call != nil && call.gen == m.gen {
		m.mu.Unlock()
		if timerGen != nil {
			return Session{}, ErrSuperseded
		}
		select {
		case <-call.done:
			return call.next, call.err
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}
	call := &refreshCall{gen: m.gen, done: make(chan struct{})}
	m.inflight = call
	prev := m.current
	m.stopLocked()
	m.mu.Unlock()

	call.next, call.err = m.exchange(ctx, call.gen, prev)

	m.mu.Lock()
	if m.inflight == call {
		m.inflight = nil
	}
	m.mu.Unlock()
	close(call.done)

	if call.err == nil {
		m.hooksMu.RLock()
		fn := m.onRefreshed
		m.hooksMu.RUnlock()
		if fn != nil {
			fn(call.next)
		}
	}
	return call.next, call.err
}

func (m *Manager) exchange(ctx context.Context, gen uint64, prev Session) (Session, error) {
	next, err := m.refresher.RefreshSession(ctx, prev.RefreshToken)
	if err != nil {
		m.mu.Lock()
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return Session{}, ErrSuperseded
		}
		m.logger.Warn("session refresh failed", "error", err)
		return prev, err
	}

	delay := time.Duration(float64(next.Lifetime()) * m.ratio)
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return Session{}, ErrSuperseded
	}
	m.installLocked(next, delay)
	m.mu.Unlock()

	m.persist(ctx, next)
	return next, nil
}

// Clear cancels the timer, discards both tokens and deletes the persisted copy.
// It is idempotent.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.stopLocked()
	m.gen++
	m.current, m.present = Session{}, false
	m.mu.Unlock()

	if err := m.store.Delete(ctx); err != nil {
		m.logger.Warn("session store delete failed", "error", err)
	}
}

// AccessToken returns the live access token, or "" when no session is set.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return ""
	}
	return m.current.AccessToken
}

// Current returns the live session and whether one is set.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.present
}

// Restore loads the persisted session and resumes it. Expired sessions are deleted
// and reported as [ErrExpired]; a missing one as [ErrNotFound].
func (m *Manager) Restore(ctx context.Context) (Session, error) {
	s, err := m.store.Load(ctx)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(m.clock.Now()) {
		if err := m.store.Delete(ctx); err != nil {
			m.logger.Warn("session store delete failed", "error", err)
		}
		return Session{}, ErrExpired
	}
	if err := m.Resume(ctx, s); err != nil {
		return Session{}, err
	}
	cur, _ := m.Current()
	return cur, nil
}

// Close stops the pending timer without discarding the session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopLocked()
	m.gen++
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, s Session) {
	ttl := s.ExpiresAt.Sub(m.clock.Now())
	if err := m.store.Save(ctx, s, ttl); err != nil {
		m.logger.Warn("session store save failed", "error", err)
	}
}
