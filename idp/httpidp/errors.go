package httpidp

import (
	"errors"
	"fmt"
	"net/http"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/idp/memory"
	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/password"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
)

var (
	// ErrBadRequest is returned for a request body the server could not decode.
	ErrBadRequest = errors.New("bad request")
	// ErrUnsupportedGrant is returned by /token for an unknown grant_type.
	ErrUnsupportedGrant = errors.New("unsupported grant type")
	// ErrInvalidAPIKey is returned when the apikey header is missing or wrong.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrRateLimited is returned when the server throttles the caller.
	ErrRateLimited = errors.New("too many requests")
	// ErrServer is returned for failures the server does not describe.
	ErrServer = errors.New("identity server error")
)

// APIError is a non-2xx response. It unwraps to the sentinel its code names, so
// errors.Is works across the wire.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("httpidp: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("httpidp: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if err := sentinelFor(e.Code); err != nil {
		return err
	}
	if e.Status == http.StatusUnauthorized {
		return goAuthCore.ErrNotAuthenticated
	}
	if e.Status >= http.StatusInternalServerError {
		return ErrServer
	}
	return nil
}

type errorCode struct {
	code   string
	status int
	err    error
}

// errorCodes is matched in order with errors.Is.
var errorCodes = []errorCode{
	{"bad_request", http.StatusBadRequest, ErrBadRequest},
	{"unsupported_grant_type", http.StatusBadRequest, ErrUnsupportedGrant},
	{"invalid_api_key", http.StatusUnauthorized, ErrInvalidAPIKey},
	{"over_request_rate_limit", http.StatusTooManyRequests, ErrRateLimited},

	{"invalid_credentials", http.StatusBadRequest, goAuthCore.ErrInvalidCredentials},
	{"missing_credentials", http.StatusBadRequest, goAuthCore.ErrMissingCredentials},
	{"account_locked", http.StatusLocked, goAuthCore.ErrAccountLocked},
	{"account_disabled", http.StatusForbidden, goAuthCore.ErrAccountDisabled},
	{"not_authenticated", http.StatusUnauthorized, goAuthCore.ErrNotAuthenticated},
	{"session_expired", http.StatusUnauthorized, goAuthCore.ErrSessionExpired},
	{"session_not_found", http.StatusUnauthorized, session.ErrNoSession},
	{"refresh_token_not_found", http.StatusUnauthorized, memory.ErrInvalidRefreshToken},
	{"refresh_token_reused", http.StatusUnauthorized, memory.ErrRefreshTokenReused},

	{"permission_denied", http.StatusForbidden, goAuthCore.ErrPermissionDenied},
	{"not_superadmin", http.StatusForbidden, goAuthCore.ErrNotSuperadmin},
	{"role_not_available", http.StatusForbidden, goAuthCore.ErrRoleNotAvailable},
	{"tenant_not_available", http.StatusForbidden, goAuthCore.ErrTenantNotAvailable},
	{"user_not_found", http.StatusNotFound, goAuthCore.ErrUserNotFound},
	{"unknown_role", http.StatusNotFound, memory.ErrUnknownRole},
	{"factor_not_found", http.StatusNotFound, memory.ErrFactorNotFound},
	{"email_exists", http.StatusConflict, memory.ErrEmailTaken},

	{"invalid_email", http.StatusUnprocessableEntity, goAuthCore.ErrInvalidEmail},
	{"invalid_profile", http.StatusUnprocessableEntity, goAuthCore.ErrInvalidProfile},
	{"invalid_permission", http.StatusUnprocessableEntity, permission.ErrInvalidFormat},
	{"mfa_verification_failed", http.StatusUnprocessableEntity, mfa.ErrCodeMismatch},
	{"invalid_mfa_code", http.StatusUnprocessableEntity, mfa.ErrInvalidCode},
	{"mfa_challenge_expired", http.StatusUnprocessableEntity, memory.ErrChallengeExpired},
	{"reset_token_invalid", http.StatusUnprocessableEntity, memory.ErrInvalidResetToken},
	{"weak_password", http.StatusUnprocessableEntity, password.ErrPasswordTooShort},
	{"password_too_long", http.StatusUnprocessableEntity, password.ErrPasswordTooLong},

	{"lockout_unavailable", http.StatusServiceUnavailable, memory.ErrLockoutUnavailable},
}

func codeFor(err error) (errorCode, bool) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorCode{}, false
}

func sentinelFor(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
