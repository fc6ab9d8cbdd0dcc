package goAuthCore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goAuthCore/session"
)

// Login authenticates with the identity provider, installs the session and loads
// the principal's tenants and system roles. Any failure leaves the Engine signed
// out with IsLoading cleared.
func (e *Engine) Login(ctx context.Context, creds Credentials) error {
	const op = "login"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.snapshot().IsAuthenticated {
		return opError(op, ErrAlreadyAuthenticated)
	}

	start := e.clock.Now()
	defer e.observeLatency(MetricLoginLatency, start)

	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return e.loginFailed(ctx, email, ErrMissingCredentials)
	}

	e.sessions.Clear(ctx)
	e.update(func(st *AuthState) {
		st.IsLoading = true
		st.LastError = nil
	})

	res, err := e.idp.SignInWithPassword(ctx, email, creds.Password)
	if err != nil {
		return e.loginFailed(ctx, email, err)
	}

	e.sessions.SetSession(ctx, res.Session)

	next, err := e.loadPrincipalState(WithAccessToken(ctx, res.Session.AccessToken), res.Principal)
	if err != nil {
		if signOutErr := e.idp.SignOut(WithAccessToken(ctx, res.Session.AccessToken)); signOutErr != nil {
			e.logger.WarnContext(ctx, "sign-out after failed login failed", "error", signOutErr)
		}
		e.sessions.Clear(ctx)
		return e.loginFailed(ctx, email, err)
	}

	e.frame = nil
	e.commit(next)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, nil, func() map[string]string {
		return map[string]string{"roles": fmt.Sprint(len(next.AvailableRoles))}
	})
	e.logger.InfoContext(ctx, "signed in", "user_id", res.Principal.ID)
	return nil
}

// loadPrincipalState builds the signed-in state for p: tenant unset, system roles,
// first role current.
func (e *Engine) loadPrincipalState(ctx context.Context, p Principal) (AuthState, error) {
	tenants, err := e.directory.ListTenants(ctx, p.ID)
	if err != nil {
		return AuthState{}, fmt.Errorf("list tenants: %w", err)
	}
	roles, err := e.directory.ListRoles(ctx, p.ID, "")
	if err != nil {
		return AuthState{}, fmt.Errorf("list roles: %w", err)
	}

	user := clonePrincipal(p)
	return AuthState{
		User:             &user,
		AvailableRoles:   cloneRoles(roles),
		AvailableTenants: tenants,
		CurrentRole:      firstRole(roles),
		IsAuthenticated:  true,
		IsSuperadmin:     hasSuperadminRole(roles),
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, email string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAuditFor(ctx, auditEventLoginFailure, "", false, err, func() map[string]string {
		return map[string]string{"email_domain": emailDomain(email)}
	})
	e.frame = nil
	e.commit(signedOutState(nil))
	return opError("login", err)
}

// Logout signs out at the identity provider and always clears the local session
// and state. A provider error is still returned.
func (e *Engine) Logout(ctx context.Context) error {
	const op = "logout"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	var userID string
	if st.User != nil {
		userID = st.User.ID
	}
	if st.OriginalUser != nil {
		userID = st.OriginalUser.ID
	}

	var errs []error
	if token := e.sessions.AccessToken(); token != "" {
		if err := e.idp.SignOut(WithAccessToken(ctx, token)); err != nil {
			errs = append(errs, err)
		}
	}
	// An impersonation with its own session leaves the original session parked.
	if e.frame != nil && e.frame.hasSession && e.frame.session.AccessToken != e.sessions.AccessToken() {
		if err := e.idp.SignOut(WithAccessToken(ctx, e.frame.session.AccessToken)); err != nil {
			errs = append(errs, err)
		}
	}

	e.sessions.Clear(ctx)
	e.frame = nil
	e.commit(signedOutState(nil))

	err := errors.Join(errs...)
	if st.IsAuthenticated {
		e.metricInc(MetricLogout)
		e.emitAuditFor(ctx, auditEventLogout, userID, err == nil, err, nil)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "provider sign-out failed, local session cleared", "error", err)
		return opError(op, err)
	}
	return nil
}

// Restore resumes a persisted session, typically at process start, and rebuilds
// the state from the identity provider. A missing session is not an error. In
// every case IsLoading is cleared.
func (e *Engine) Restore(ctx context.Context) error {
	const op = "restore"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.snapshot().IsAuthenticated {
		return opError(op, ErrAlreadyAuthenticated)
	}

	sess, err := e.sessions.Restore(ctx)
	if err != nil {
		e.sessions.Clear(ctx)
		e.commit(signedOutState(nil))
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return nil
		}
		return opError(op, err)
	}

	actx := WithAccessToken(ctx, sess.AccessToken)
	user, err := e.idp.CurrentUser(actx)
	if err != nil {
		e.sessions.Clear(ctx)
		e.commit(signedOutState(nil))
		return opError(op, fmt.Errorf("current user: %w", err))
	}
	next, err := e.loadPrincipalState(actx, user)
	if err != nil {
		e.sessions.Clear(ctx)
		e.commit(signedOutState(nil))
		return opError(op, err)
	}

	e.commit(next)
	e.metricInc(MetricSessionRestored)
	e.emitAudit(ctx, auditEventSessionRestored, true, nil, nil)
	return nil
}

// RefreshSession refreshes the tokens now instead of waiting for the timer. A
// failed refresh expires the session exactly like a failed background refresh.
func (e *Engine) RefreshSession(ctx context.Context) error {
	const op = "refresh_session"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if !e.snapshot().IsAuthenticated {
		return opError(op, ErrNotAuthenticated)
	}

	if _, err := e.sessions.Refresh(ctx); err != nil {
		if errors.Is(err, session.ErrSuperseded) {
			return opError(op, err)
		}
		e.metricInc(MetricRefreshFailure)
		e.expireSession(ctx, err)
		return &Error{Kind: KindAuthentication, Op: op, Err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	}
	return nil
}

func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return strings.ToLower(email[i+1:])
	}
	return ""
}
