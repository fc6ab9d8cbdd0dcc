package goAuthCore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

// Engine is the authentication and authorization state machine for one client.
//
// Every operation is serialized; the state it publishes is a deep copy, so callers
// may keep and mutate snapshots freely. Build one with [New].
type Engine struct {
	config    Config
	idp       IdentityProvider
	directory Directory
	sessions  *session.Manager
	mfa       *mfa.Service
	evaluator permission.Evaluator
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     session.Clock

	// opMu serializes operations for their whole duration, provider calls included.
	opMu sync.Mutex
	// pubMu orders state writes with subscriber delivery.
	pubMu   sync.Mutex
	stateMu sync.RWMutex
	state   AuthState
	// frame is the saved pre-impersonation state; guarded by opMu.
	frame *impersonationFrame

	subMu   sync.Mutex
	subs    map[uint64]func(AuthState)
	nextSub uint64

	closed atomic.Bool
}

type impersonationFrame struct {
	state      AuthState
	session    session.Session
	hasSession bool
}

// Close stops the refresh timer and drains the audit dispatcher. The persisted
// session is kept so a later Engine can Restore it.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.sessions != nil {
		e.sessions.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// State returns a deep copy of the current AuthState.
func (e *Engine) State() AuthState {
	if e == nil {
		return initialState()
	}
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Clone()
}

// Subscribe registers fn to receive a snapshot after every state transition and
// returns a function that removes it. fn runs synchronously on the goroutine that
// made the transition, often while an operation is still in progress, so it must
// not call Engine operations itself. State and HasPermission are safe.
func (e *Engine) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	if e == nil || fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.mfa == nil {
		return ErrEngineNotReady
	}
	if e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) snapshot() AuthState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Clone()
}

// authCtx attaches the live access token for provider calls.
func (e *Engine) authCtx(ctx context.Context) context.Context {
	return WithAccessToken(ctx, e.sessions.AccessToken())
}

// update applies fn to the state and publishes the result. The published Session
// always mirrors the session manager so a concurrent refresh is never overwritten
// with an older pair.
func (e *Engine) update(fn func(*AuthState)) {
	cur, hasSession := e.sessions.Current()

	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.stateMu.Lock()
	fn(&e.state)
	if e.state.IsAuthenticated && hasSession {
		s := cur
		e.state.Session = &s
	} else {
		e.state.Session = nil
	}
	published := e.state.Clone()
	e.stateMu.Unlock()

	e.publish(published)
}

func (e *Engine) commit(next AuthState) {
	e.update(func(st *AuthState) { *st = next })
}

func (e *Engine) publish(state AuthState) {
	e.subMu.Lock()
	subs := make([]func(AuthState), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()

	for i, fn := range subs {
		if i == len(subs)-1 {
			fn(state)
			continue
		}
		fn(state.Clone())
	}
}

// HasPermission reports whether the current role grants perm. The superadmin flag
// grants everything and each such grant is counted and, if configured, audited.
func (e *Engine) HasPermission(perm string) bool {
	return e.hasPermission(context.Background(), perm)
}

// RequirePermission is HasPermission returning a KindAuthorization error on denial.
func (e *Engine) RequirePermission(ctx context.Context, perm string) error {
	if e.hasPermission(ctx, perm) {
		return nil
	}
	return &Error{Kind: KindAuthorization, Op: "require_permission", Err: fmt.Errorf("%w: %s", ErrPermissionDenied, perm)}
}

func (e *Engine) hasPermission(ctx context.Context, perm string) bool {
	if e == nil {
		return false
	}

	e.stateMu.RLock()
	sub := e.state.subject()
	granted := e.evaluator.Evaluate(sub, perm)
	e.stateMu.RUnlock()

	if !granted {
		e.metricInc(MetricPermissionDenied)
		return false
	}
	if sub.Superadmin {
		e.metricInc(MetricSuperadminBypass)
		if e.config.Security.AuditSuperadminBypass {
			e.emitAudit(ctx, auditEventSuperadminBypass, true, nil, func() map[string]string {
				return map[string]string{"permission": perm}
			})
		}
	}
	return true
}

// reauthenticate backs mfa.Service.Disable: it checks password against the
// signed-in principal and discards the session the provider issues.
func (e *Engine) reauthenticate(ctx context.Context, password string) error {
	e.stateMu.RLock()
	var email string
	if e.state.User != nil {
		email = e.state.User.Email
	}
	e.stateMu.RUnlock()

	if email == "" {
		return ErrNotAuthenticated
	}
	if password == "" {
		return mfa.ErrReauthenticationFailed
	}

	res, err := e.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return mfa.ErrReauthenticationFailed
		}
		return err
	}
	// The proof session is never used; the live session stays in place.
	if err := e.idp.SignOut(WithAccessToken(ctx, res.Session.AccessToken)); err != nil {
		e.logger.Debug("discard reauthentication session failed", "error", err)
	}
	return nil
}

// onRefreshed mirrors a refreshed session into the state. It runs on whichever
// goroutine performed the refresh and never takes opMu.
func (e *Engine) onRefreshed(s session.Session) {
	e.metricInc(MetricRefreshSuccess)
	e.update(func(*AuthState) {})
	e.emitAudit(context.Background(), auditEventSessionRefreshed, true, nil, func() map[string]string {
		return map[string]string{"expires_at": s.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")}
	})
}

// onRefreshFailure runs on the timer goroutine after a background refresh fails.
func (e *Engine) onRefreshFailure(failed session.Session, cause error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.closed.Load() {
		return
	}
	// A login or logout that completed after the timer fired owns the session now.
	cur, ok := e.sessions.Current()
	if !ok || cur.RefreshToken != failed.RefreshToken {
		return
	}

	e.metricInc(MetricRefreshFailure)
	e.expireSession(context.Background(), cause)
}

// expireSession tears the session down after a failed refresh. opMu must be held.
func (e *Engine) expireSession(ctx context.Context, cause error) {
	lastErr := &Error{Kind: KindAuthentication, Op: "refresh_session", Err: fmt.Errorf("%w: %w", ErrSessionExpired, cause)}

	e.metricInc(MetricSessionExpired)
	e.emitAudit(ctx, auditEventSessionExpired, false, cause, nil)
	e.logger.WarnContext(ctx, "session refresh failed, session expired", "error", cause)

	e.sessions.Clear(ctx)

	if e.config.Security.ForceLogoutOnRefreshFailure {
		e.frame = nil
		e.metricInc(MetricLogout)
		e.commit(signedOutState(lastErr))
		return
	}
	e.update(func(st *AuthState) {
		st.LastError = lastErr
	})
}
