package goAuthCore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

const (
	auditEventLoginSuccess                = "login_success"
	auditEventLoginFailure                = "login_failure"
	auditEventLogout                      = "logout"
	auditEventSessionRefreshed            = "session_refreshed"
	auditEventSessionExpired              = "session_expired"
	auditEventSessionRestored             = "session_restored"
	auditEventRoleSwitched                = "role_switched"
	auditEventRoleSwitchFailure           = "role_switch_failure"
	auditEventTenantSwitched              = "tenant_switched"
	auditEventTenantSwitchFailure         = "tenant_switch_failure"
	auditEventImpersonationStarted        = "impersonation_started"
	auditEventImpersonationDenied         = "impersonation_denied"
	auditEventImpersonationStopped        = "impersonation_stopped"
	auditEventProfileUpdated              = "profile_updated"
	auditEventPasswordResetRequested      = "password_reset_requested"
	auditEventSecurityPreferencesUpdated  = "security_preferences_updated"
	auditEventSecurityPreferencesRollback = "security_preferences_rollback"
	auditEventMFAEnrollStarted            = "mfa_enroll_started"
	auditEventMFAVerified                 = "mfa_verified"
	auditEventMFAVerifyFailure            = "mfa_verify_failure"
	auditEventMFADisabled                 = "mfa_disabled"
	auditEventMFADisableFailure           = "mfa_disable_failure"
	auditEventMFAOrphansSwept             = "mfa_orphans_swept"
	auditEventSuperadminBypass            = "superadmin_bypass"
)

// AuditErrorCode is the stable, low-cardinality failure code written to
// AuditEvent.Error. Raw error text never reaches the sink.
type AuditErrorCode string

const (
	auditErrNotAuthenticated    AuditErrorCode = "not_authenticated"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrMissingCredentials  AuditErrorCode = "missing_credentials"
	auditErrAccountLocked       AuditErrorCode = "account_locked"
	auditErrAccountDisabled     AuditErrorCode = "account_disabled"
	auditErrSessionExpired      AuditErrorCode = "session_expired"
	auditErrSuperseded          AuditErrorCode = "superseded"
	auditErrNotSuperadmin       AuditErrorCode = "not_superadmin"
	auditErrNotImpersonating    AuditErrorCode = "not_impersonating"
	auditErrImpersonationActive AuditErrorCode = "impersonation_active"
	auditErrRoleNotAvailable    AuditErrorCode = "role_not_available"
	auditErrTenantNotAvailable  AuditErrorCode = "tenant_not_available"
	auditErrUserNotFound        AuditErrorCode = "user_not_found"
	auditErrPermissionDenied    AuditErrorCode = "permission_denied"
	auditErrInvalidInput        AuditErrorCode = "invalid_input"
	auditErrMFAInvalidCode      AuditErrorCode = "mfa_invalid_code"
	auditErrMFACodeMismatch     AuditErrorCode = "mfa_code_mismatch"
	auditErrMFANoPendingFactor  AuditErrorCode = "mfa_no_pending_factor"
	auditErrReauthentication    AuditErrorCode = "reauthentication_failed"
	auditErrReconciliation      AuditErrorCode = "reconciliation_ambiguity"
	auditErrSessionStoreDown    AuditErrorCode = "session_store_unavailable"
	auditErrTimeout             AuditErrorCode = "timeout"
	auditErrProvider            AuditErrorCode = "provider_error"
)

// emitAudit fills principal, tenant, role and impersonator from the current state.
// It must not be called while stateMu is held for writing.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}

	e.stateMu.RLock()
	if e.state.User != nil {
		event.UserID = e.state.User.ID
	}
	if e.state.Tenant != nil {
		event.TenantID = e.state.Tenant.ID
	}
	if e.state.CurrentRole != nil {
		event.RoleID = e.state.CurrentRole.ID
	}
	if e.state.OriginalUser != nil {
		event.ImpersonatorID = e.state.OriginalUser.ID
	}
	e.stateMu.RUnlock()

	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// emitAuditFor is emitAudit for events about a principal that is not (or no
// longer) in the state, such as a failed login or a logout.
func (e *Engine) emitAuditFor(
	ctx context.Context,
	eventType string,
	userID string,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, session.ErrNoSession):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMissingCredentials):
		return auditErrMissingCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, session.ErrExpired):
		return auditErrSessionExpired
	case errors.Is(err, session.ErrSuperseded):
		return auditErrSuperseded
	case errors.Is(err, ErrNotSuperadmin):
		return auditErrNotSuperadmin
	case errors.Is(err, ErrNotImpersonating):
		return auditErrNotImpersonating
	case errors.Is(err, ErrImpersonationActive):
		return auditErrImpersonationActive
	case errors.Is(err, ErrRoleNotAvailable):
		return auditErrRoleNotAvailable
	case errors.Is(err, ErrTenantNotAvailable):
		return auditErrTenantNotAvailable
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidProfile),
		errors.Is(err, ErrAlreadyAuthenticated),
		errors.Is(err, permission.ErrInvalidFormat),
		errors.Is(err, mfa.ErrInvalidTransition):
		return auditErrInvalidInput
	case errors.Is(err, mfa.ErrInvalidCode):
		return auditErrMFAInvalidCode
	case errors.Is(err, mfa.ErrCodeMismatch):
		return auditErrMFACodeMismatch
	case errors.Is(err, mfa.ErrNoPendingFactor):
		return auditErrMFANoPendingFactor
	case errors.Is(err, mfa.ErrReauthenticationFailed):
		return auditErrReauthentication
	case errors.Is(err, mfa.ErrReconciliationAmbiguity):
		return auditErrReconciliation
	case errors.Is(err, session.ErrRedisUnavailable):
		return auditErrSessionStoreDown
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	default:
		return auditErrProvider
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.clock.Now().Sub(start))
}
