package goAuthCore

import (
	"context"

	"github.com/MrEthical07/goAuthCore/mfa"
)

// mfaPrecondition returns the state for an MFA operation. MFA mutations act on the
// principal's own factors, so they are refused while impersonating.
func (e *Engine) mfaPrecondition() (AuthState, error) {
	st := e.snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return st, ErrNotAuthenticated
	}
	if st.IsImpersonating {
		return st, ErrImpersonationActive
	}
	return st, nil
}

// MFAStatus reconciles profile metadata with the provider's factor list. The
// local MFAEnabled preference follows the reconciled result.
func (e *Engine) MFAStatus(ctx context.Context) (MFAStatus, error) {
	const op = "mfa_status"
	if err := e.ready(); err != nil {
		return MFAStatus{}, opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st, err := e.mfaPrecondition()
	if err != nil {
		return MFAStatus{}, opError(op, err)
	}

	status, err := e.mfa.Status(e.authCtx(ctx))
	if err != nil {
		return MFAStatus{}, opError(op, err)
	}

	if st.User.SecurityPreferences.MFAEnabled != status.Enabled ||
		st.User.SecurityPreferences.BackupCodesGenerated != status.BackupCodesAvailable {
		e.setMFAPreferences(st.User.ID, status.Enabled, status.BackupCodesAvailable)
	}
	return status, nil
}

// EnrollMFA starts a TOTP enrollment and returns the secret and otpauth URI for
// the authenticator app. Any earlier factor is removed first.
func (e *Engine) EnrollMFA(ctx context.Context, friendlyName string) (MFAEnrollment, error) {
	const op = "enroll_mfa"
	if err := e.ready(); err != nil {
		return MFAEnrollment{}, opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st, err := e.mfaPrecondition()
	if err != nil {
		return MFAEnrollment{}, opError(op, err)
	}

	enrollment, err := e.mfa.Enroll(e.authCtx(ctx), st.User.Email, friendlyName)
	if err != nil {
		return MFAEnrollment{}, opError(op, err)
	}
	return enrollment, nil
}

// VerifyMFA confirms the pending enrollment with a six-digit code and returns the
// recovery codes. They are shown once and never stored by the Engine.
func (e *Engine) VerifyMFA(ctx context.Context, code string) ([]RecoveryCode, error) {
	const op = "verify_mfa"
	if err := e.ready(); err != nil {
		return nil, opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st, err := e.mfaPrecondition()
	if err != nil {
		return nil, opError(op, err)
	}

	codes, err := e.mfa.Verify(e.authCtx(ctx), code)
	if err != nil {
		return nil, opError(op, err)
	}

	e.setMFAPreferences(st.User.ID, true, true)
	return codes, nil
}

// DisableMFA re-authenticates with password and removes every TOTP factor. A
// wrong password leaves factors, metadata and state untouched.
func (e *Engine) DisableMFA(ctx context.Context, password string) error {
	const op = "disable_mfa"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st, err := e.mfaPrecondition()
	if err != nil {
		return opError(op, err)
	}

	if err := e.mfa.Disable(e.authCtx(ctx), password); err != nil {
		return opError(op, err)
	}

	e.setMFAPreferences(st.User.ID, false, st.User.SecurityPreferences.BackupCodesGenerated)
	return nil
}

// BeginMFAFlow returns the enrollment UI flow positioned for the current status:
// the disable branch when MFA is enabled, otherwise setup.
func (e *Engine) BeginMFAFlow(ctx context.Context) (*mfa.Flow, MFAStatus, error) {
	status, err := e.MFAStatus(ctx)
	if err != nil {
		return nil, MFAStatus{}, err
	}
	return mfa.NewFlow(status), status, nil
}

// SweepOrphanedMFAFactors removes verified factors left behind by an explicit
// disable. It is never run implicitly.
func (e *Engine) SweepOrphanedMFAFactors(ctx context.Context) (int, error) {
	const op = "sweep_mfa_factors"
	if err := e.ready(); err != nil {
		return 0, opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if _, err := e.mfaPrecondition(); err != nil {
		return 0, opError(op, err)
	}

	removed, err := e.mfa.SweepOrphanedFactors(e.authCtx(ctx))
	if err != nil {
		return removed, opError(op, err)
	}
	return removed, nil
}

func (e *Engine) setMFAPreferences(userID string, enabled, backupCodes bool) {
	e.update(func(s *AuthState) {
		if s.User == nil || s.User.ID != userID {
			return
		}
		s.User.SecurityPreferences.MFAEnabled = enabled
		s.User.SecurityPreferences.BackupCodesGenerated = backupCodes
	})
}
