package goAuthCore

import (
	"context"
	"fmt"
)

// ImpersonateUser lets a superadmin act as userID. The current state is saved and
// restored verbatim by StopImpersonation. Impersonation does not nest, and the
// superadmin flag is always false while it lasts.
//
// When the directory issues a session for the target, that session becomes live
// and the superadmin's session is parked until StopImpersonation.
func (e *Engine) ImpersonateUser(ctx context.Context, userID string) error {
	const op = "impersonate_user"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()

	deny := func(err error) error {
		e.metricInc(MetricImpersonationDenied)
		e.emitAudit(ctx, auditEventImpersonationDenied, false, err, func() map[string]string {
			return map[string]string{"target_user_id": userID}
		})
		return opError(op, err)
	}

	switch {
	case !st.IsAuthenticated || st.User == nil:
		return deny(ErrNotAuthenticated)
	case st.IsImpersonating:
		return deny(ErrImpersonationActive)
	case !st.IsSuperadmin:
		return deny(ErrNotSuperadmin)
	case userID == "":
		return deny(ErrUserNotFound)
	}

	target, err := e.directory.GetImpersonationTarget(e.authCtx(ctx), userID)
	if err != nil {
		return deny(fmt.Errorf("impersonation target: %w", err))
	}
	if target.User.ID == "" {
		return deny(ErrUserNotFound)
	}

	frame := &impersonationFrame{state: st}
	if cur, ok := e.sessions.Current(); ok {
		frame.session, frame.hasSession = cur, true
	}
	if target.Session != nil {
		e.sessions.SetSession(ctx, *target.Session)
	}

	user := clonePrincipal(target.User)
	next := AuthState{
		User:             &user,
		AvailableRoles:   cloneRoles(target.Roles),
		AvailableTenants: target.Tenants,
		IsAuthenticated:  true,
		IsImpersonating:  true,
		IsSuperadmin:     false,
		OriginalUser:     clonePrincipalPtr(st.User),
	}
	if target.Tenant != nil {
		t := cloneTenant(*target.Tenant)
		next.Tenant = &t
	}
	next.CurrentRole = firstRole(target.Roles)
	if target.CurrentRole != nil {
		if i, ok := findRole(target.Roles, target.CurrentRole.ID); ok {
			r := cloneRole(target.Roles[i])
			next.CurrentRole = &r
		}
	}

	e.frame = frame
	e.commit(next)

	e.metricInc(MetricImpersonationStart)
	e.emitAudit(ctx, auditEventImpersonationStarted, true, nil, func() map[string]string {
		return map[string]string{"own_session": fmt.Sprint(target.Session != nil)}
	})
	e.logger.InfoContext(ctx, "impersonation started",
		"impersonator_id", st.User.ID, "target_user_id", user.ID)
	return nil
}

// StopImpersonation ends the impersonation and restores the state saved by
// ImpersonateUser, including tenant, role and superadmin flag. If the target had
// its own session it is signed out and the parked session resumed; should the
// parked session have expired meanwhile, the Engine signs out.
func (e *Engine) StopImpersonation(ctx context.Context) error {
	const op = "stop_impersonation"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	frame := e.frame
	if !st.IsImpersonating || frame == nil {
		return opError(op, ErrNotImpersonating)
	}

	e.metricInc(MetricImpersonationStop)
	e.emitAudit(ctx, auditEventImpersonationStopped, true, nil, nil)

	cur, ok := e.sessions.Current()
	if frame.hasSession && (!ok || cur.RefreshToken != frame.session.RefreshToken) {
		if ok {
			if err := e.idp.SignOut(WithAccessToken(ctx, cur.AccessToken)); err != nil {
				e.logger.WarnContext(ctx, "impersonation session sign-out failed", "error", err)
			}
		}
		if err := e.sessions.Resume(ctx, frame.session); err != nil {
			e.sessions.Clear(ctx)
			e.frame = nil
			lastErr := &Error{Kind: KindAuthentication, Op: op, Err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
			e.commit(signedOutState(lastErr))
			e.metricInc(MetricSessionExpired)
			return lastErr
		}
	}

	e.frame = nil
	e.commit(frame.state)
	return nil
}
