package goAuthCore

import (
	"errors"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

var (
	// ErrNotAuthenticated is returned by operations that need a signed-in principal.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAlreadyAuthenticated is returned by Login while a principal is signed in.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrInvalidCredentials is returned by identity providers for a rejected email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrAccountLocked is returned by identity providers after too many failed sign-ins.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned by identity providers for an inactive principal.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrSessionExpired is recorded when a refresh fails and the session is torn down.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotSuperadmin is returned by ImpersonateUser for callers without the superadmin flag.
	ErrNotSuperadmin = errors.New("superadmin required")
	// ErrNotImpersonating is returned by StopImpersonation outside an impersonation.
	ErrNotImpersonating = errors.New("not impersonating")
	// ErrImpersonationActive is returned by MFA mutations attempted while impersonating.
	ErrImpersonationActive = errors.New("operation not allowed while impersonating")
	// ErrRoleNotAvailable is returned by SwitchRole for a role outside AvailableRoles.
	ErrRoleNotAvailable = errors.New("role not available")
	// ErrTenantNotAvailable is returned by directories for a tenant the principal cannot enter.
	ErrTenantNotAvailable = errors.New("tenant not available")
	// ErrUserNotFound is returned by directories for an unknown principal.
	ErrUserNotFound = errors.New("user not found")
	// ErrPermissionDenied is returned by RequirePermission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidEmail is returned for an empty or malformed email address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidProfile is returned by UpdateProfile for an empty patch or bad field.
	ErrInvalidProfile = errors.New("invalid profile update")
	// ErrEngineNotReady is returned when the Engine was not built through a Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind discriminates failures for the UI layer.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindAuthentication means the principal must sign in again.
	KindAuthentication
	// KindAuthorization means the action is not allowed for the current role.
	KindAuthorization
	// KindValidation means the input was malformed.
	KindValidation
	// KindProvider means the identity provider or directory failed, possibly transiently.
	KindProvider
	// KindReconciliation means cached and remote MFA state disagree outside the known order.
	KindReconciliation
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindReconciliation:
		return "reconciliation"
	default:
		return "unknown"
	}
}

// Error is the normalized error every Engine operation returns. Sentinels stay
// matchable through errors.Is.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, mfa.ErrReauthenticationFailed):
		return KindAuthentication

	case errors.Is(err, ErrNotSuperadmin),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrRoleNotAvailable),
		errors.Is(err, ErrTenantNotAvailable),
		errors.Is(err, ErrImpersonationActive):
		return KindAuthorization

	case errors.Is(err, ErrAlreadyAuthenticated),
		errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrNotImpersonating),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidProfile),
		errors.Is(err, permission.ErrInvalidFormat),
		errors.Is(err, mfa.ErrInvalidCode),
		errors.Is(err, mfa.ErrCodeMismatch),
		errors.Is(err, mfa.ErrNoPendingFactor),
		errors.Is(err, mfa.ErrInvalidTransition):
		return KindValidation

	case errors.Is(err, mfa.ErrReconciliationAmbiguity):
		return KindReconciliation

	default:
		return KindProvider
	}
}
