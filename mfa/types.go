package mfa

import (
	"context"
	"time"
)

// FactorType identifies the kind of second factor.
type FactorType string

// FactorTOTP is a time-based one-time password factor.
const FactorTOTP FactorType = "totp"

// FactorStatus is the verification state of a factor at the identity provider.
type FactorStatus string

const (
	FactorUnverified FactorStatus = "unverified"
	FactorVerified   FactorStatus = "verified"
)

// Profile metadata keys owned by this package.
const (
	MetadataMFAEnabled           = "mfaEnabled"
	MetadataMFAVerifiedAt        = "mfaVerifiedAt"
	MetadataBackupCodesGenerated = "backupCodesGenerated"
)

// Factor is a registered second factor as reported by the identity provider.
type Factor struct {
	ID           string       `json:"id"`
	Type         FactorType   `json:"factor_type"`
	Status       FactorStatus `json:"status"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// FactorEnrollment is what the identity provider returns for a new TOTP factor.
type FactorEnrollment struct {
	FactorID string `json:"id"`
	Secret   string `json:"secret"`
}

// Enrollment is the result of [Service.Enroll]: the new factor, its shared secret,
// and the otpauth URI to render as a QR code.
type Enrollment struct {
	FactorID string
	Secret   string
	URI      string
}

// Status is the reconciled MFA state. It is derived on demand and never stored.
type Status struct {
	Enabled              bool
	Verified             bool
	PendingVerification  bool
	FactorID             string
	EnrolledAt           *time.Time
	BackupCodesAvailable bool
}

// RecoveryCode is a one-time backup credential issued at verification.
type RecoveryCode struct {
	Code string
	Used bool
}

// FactorStore is the factor half of the identity provider, scoped to the signed-in
// principal carried by ctx.
type FactorStore interface {
	ListFactors(ctx context.Context) ([]Factor, error)
	EnrollTOTPFactor(ctx context.Context, friendlyName string) (FactorEnrollment, error)
	UnenrollFactor(ctx context.Context, factorID string) error
	ChallengeFactor(ctx context.Context, factorID string) (challengeID string, err error)
	VerifyChallenge(ctx context.Context, factorID, challengeID, code string) error
}

// MetadataStore is the profile metadata half of the identity provider.
type MetadataStore interface {
	GetProfileMetadata(ctx context.Context) (map[string]any, error)
	UpdateProfileMetadata(ctx context.Context, patch map[string]any) error
}
