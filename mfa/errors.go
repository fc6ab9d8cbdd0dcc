package mfa

import "errors"

var (
	// ErrInvalidCode is returned when a verification code is not exactly six digits.
	ErrInvalidCode = errors.New("verification code must be 6 digits")
	// ErrCodeMismatch is returned when a well-formed code does not match the factor.
	ErrCodeMismatch = errors.New("verification code is incorrect")
	// ErrNoPendingFactor is returned by Verify when no unverified TOTP factor exists.
	ErrNoPendingFactor = errors.New("no pending totp factor")
	// ErrReauthenticationFailed is returned by Disable when the password is rejected.
	ErrReauthenticationFailed = errors.New("re-authentication failed")
	// ErrReconciliationAmbiguity marks metadata the reconciliation order does not cover.
	ErrReconciliationAmbiguity = errors.New("mfa reconciliation ambiguity")
	// ErrInvalidURI is returned when a provisioning URI fails to parse back.
	ErrInvalidURI = errors.New("invalid otpauth uri")
	// ErrInvalidTransition is returned by [Flow] for a step the current state does not allow.
	ErrInvalidTransition = errors.New("invalid mfa flow transition")
	// ErrNotReady is returned when the service was built without its stores.
	ErrNotReady = errors.New("mfa service not ready")
)
