package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the static MFA settings.
type Config struct {
	// Issuer appears in the otpauth URI and in authenticator apps.
	Issuer string
	// FriendlyName is the factor name used when Enroll receives none.
	FriendlyName string
	// RecoveryCodeCount is the number of codes issued per verification.
	RecoveryCodeCount int
	// RecoveryCodeLength is the number of alphabet characters per code.
	RecoveryCodeLength int
}

// Metrics maps service outcomes to metric ids. Zero ids are valid.
type Metrics struct {
	EnrollStarted  int
	VerifySuccess  int
	VerifyFailure  int
	Disabled       int
	ReauthFailure  int
	MetadataHealed int
	Ambiguity      int
	OrphansSwept   int
}

// Events maps service outcomes to audit event names.
type Events struct {
	EnrollStarted  string
	VerifySuccess  string
	VerifyFailure  string
	Disabled       string
	DisableFailure string
	OrphansSwept   string
}

// Deps wires the service to the identity provider and to the host's metrics and
// audit pipeline. Only Factors and Metadata are required.
type Deps struct {
	Factors  FactorStore
	Metadata MetadataStore

	// Reauthenticate checks the signed-in principal's password.
	Reauthenticate func(ctx context.Context, password string) error

	Now         func() time.Time
	RandomIndex func(int) (int, error)
	Logger      *slog.Logger

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, err error, metadata func() map[string]string)

	Metrics Metrics
	Events  Events
}

// Service implements MFA reconciliation and the enroll/verify/disable protocol.
// It holds no per-user state and is safe for concurrent use.
type Service struct {
	cfg  Config
	deps Deps
}

// NewService builds a [Service].
func NewService(cfg Config, deps Deps) *Service {
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = 10
	}
	if cfg.RecoveryCodeLength <= 0 {
		cfg.RecoveryCodeLength = 10
	}
	if cfg.FriendlyName == "" {
		cfg.FriendlyName = "Authenticator app"
	}
	normalizeDeps(&deps)
	return &Service{cfg: cfg, deps: deps}
}

func normalizeDeps(deps *Deps) {
	if deps.Reauthenticate == nil {
		deps.Reauthenticate = func(context.Context, string) error { return ErrReauthenticationFailed }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, error, func() map[string]string) {}
	}
}

type flagState int

const (
	flagAbsent flagState = iota
	flagTrue
	flagFalse
)

func (s *Service) readFlag(ctx context.Context, meta map[string]any) flagState {
	raw, ok := meta[MetadataMFAEnabled]
	if !ok || raw == nil {
		return flagAbsent
	}
	b, ok := raw.(bool)
	if !ok {
		s.deps.MetricInc(s.deps.Metrics.Ambiguity)
		s.deps.Logger.WarnContext(ctx, "mfa metadata flag is not a boolean, treating as absent",
			"error", ErrReconciliationAmbiguity, "value", fmt.Sprint(raw))
		return flagAbsent
	}
	if b {
		return flagTrue
	}
	return flagFalse
}

// Status reconciles metadata and the remote factor list into a single [Status].
func (s *Service) Status(ctx context.Context) (Status, error) {
	if s.deps.Factors == nil || s.deps.Metadata == nil {
		return Status{}, ErrNotReady
	}

	meta, err := s.deps.Metadata.GetProfileMetadata(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("get profile metadata: %w", err)
	}

	flag := s.readFlag(ctx, meta)
	if flag == flagTrue {
		return Status{
			Enabled:              true,
			Verified:             true,
			EnrolledAt:           parseTime(meta[MetadataMFAVerifiedAt]),
			BackupCodesAvailable: meta[MetadataBackupCodesGenerated] == true,
		}, nil
	}

	factors, err := s.deps.Factors.ListFactors(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list factors: %w", err)
	}
	verified, pending := splitTOTP(factors)

	switch {
	case verified != nil && flag == flagFalse:
		s.deps.Logger.DebugContext(ctx, "verified factor orphaned by explicit disable", "factor_id", verified.ID)
		return Status{}, nil

	case verified != nil:
		if err := s.deps.Metadata.UpdateProfileMetadata(ctx, map[string]any{MetadataMFAEnabled: true}); err != nil {
			s.deps.Logger.WarnContext(ctx, "mfa metadata self-heal failed", "error", err)
		} else {
			s.deps.MetricInc(s.deps.Metrics.MetadataHealed)
		}
		enrolledAt := verified.CreatedAt
		return Status{
			Enabled:              true,
			Verified:             true,
			FactorID:             verified.ID,
			EnrolledAt:           &enrolledAt,
			BackupCodesAvailable: meta[MetadataBackupCodesGenerated] == true,
		}, nil

	case pending != nil:
		return Status{PendingVerification: true, FactorID: pending.ID}, nil

	default:
		return Status{}, nil
	}
}

// Enroll clears any existing factors best-effort, enrolls a new TOTP factor and
// returns its secret and otpauth URI. label identifies the principal in the URI.
func (s *Service) Enroll(ctx context.Context, label, friendlyName string) (Enrollment, error) {
	if s.deps.Factors == nil {
		return Enrollment{}, ErrNotReady
	}
	if friendlyName == "" {
		friendlyName = s.cfg.FriendlyName
	}

	if existing, err := s.deps.Factors.ListFactors(ctx); err != nil {
		s.deps.Logger.DebugContext(ctx, "list factors before enroll failed", "error", err)
	} else {
		for _, f := range existing {
			if err := s.deps.Factors.UnenrollFactor(ctx, f.ID); err != nil {
				s.deps.Logger.DebugContext(ctx, "unenroll stale factor failed", "factor_id", f.ID, "error", err)
			}
		}
	}

	enrolled, err := s.deps.Factors.EnrollTOTPFactor(ctx, friendlyName)
	if err != nil {
		return Enrollment{}, fmt.Errorf("enroll totp factor: %w", err)
	}

	uri := ProvisionURI(s.cfg.Issuer, label, enrolled.Secret)
	if err := ValidateURI(uri, s.cfg.Issuer, enrolled.Secret); err != nil {
		return Enrollment{}, err
	}

	s.deps.MetricInc(s.deps.Metrics.EnrollStarted)
	s.deps.EmitAudit(ctx, s.deps.Events.EnrollStarted, true, nil, func() map[string]string {
		return map[string]string{"factor_id": enrolled.FactorID}
	})
	return Enrollment{FactorID: enrolled.FactorID, Secret: enrolled.Secret, URI: uri}, nil
}

// Verify checks code against the pending factor. On success it marks MFA enabled
// in metadata and returns a fresh batch of recovery codes.
func (s *Service) Verify(ctx context.Context, code string) ([]RecoveryCode, error) {
	if s.deps.Factors == nil || s.deps.Metadata == nil {
		return nil, ErrNotReady
	}
	if !isSixDigits(code) {
		s.verifyFailed(ctx, ErrInvalidCode)
		return nil, ErrInvalidCode
	}

	factors, err := s.deps.Factors.ListFactors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list factors: %w", err)
	}
	_, pending := splitTOTP(factors)
	if pending == nil {
		s.verifyFailed(ctx, ErrNoPendingFactor)
		return nil, ErrNoPendingFactor
	}

	challengeID, err := s.deps.Factors.ChallengeFactor(ctx, pending.ID)
	if err != nil {
		return nil, fmt.Errorf("challenge factor: %w", err)
	}
	if err := s.deps.Factors.VerifyChallenge(ctx, pending.ID, challengeID, code); err != nil {
		s.verifyFailed(ctx, err)
		return nil, fmt.Errorf("verify challenge: %w", err)
	}

	codes, err := GenerateRecoveryCodes(s.cfg.RecoveryCodeCount, s.cfg.RecoveryCodeLength, s.deps.RandomIndex)
	if err != nil {
		return nil, fmt.Errorf("generate recovery codes: %w", err)
	}

	patch := map[string]any{
		MetadataMFAEnabled:           true,
		MetadataMFAVerifiedAt:        s.deps.Now().UTC().Format(time.RFC3339),
		MetadataBackupCodesGenerated: true,
	}
	if err := s.deps.Metadata.UpdateProfileMetadata(ctx, patch); err != nil {
		return nil, fmt.Errorf("update profile metadata: %w", err)
	}

	s.deps.MetricInc(s.deps.Metrics.VerifySuccess)
	s.deps.EmitAudit(ctx, s.deps.Events.VerifySuccess, true, nil, func() map[string]string {
		return map[string]string{"factor_id": pending.ID}
	})
	return codes, nil
}

func (s *Service) verifyFailed(ctx context.Context, err error) {
	s.deps.MetricInc(s.deps.Metrics.VerifyFailure)
	s.deps.EmitAudit(ctx, s.deps.Events.VerifyFailure, false, err, nil)
}

// Disable re-authenticates with password before touching any factor, then
// unenrolls every TOTP factor and records mfaEnabled=false. Disabling with no
// factors succeeds.
//
// If any unenroll fails the metadata is left untouched. When some factors were
// already removed the cache and the factor store then disagree, and the error
// wraps [ErrReconciliationAmbiguity]; retrying Disable converges.
func (s *Service) Disable(ctx context.Context, password string) error {
	if s.deps.Factors == nil || s.deps.Metadata == nil {
		return ErrNotReady
	}

	if err := s.deps.Reauthenticate(ctx, password); err != nil {
		s.deps.MetricInc(s.deps.Metrics.ReauthFailure)
		s.deps.EmitAudit(ctx, s.deps.Events.DisableFailure, false, ErrReauthenticationFailed, nil)
		if errors.Is(err, ErrReauthenticationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrReauthenticationFailed, err)
	}

	factors, err := s.deps.Factors.ListFactors(ctx)
	if err != nil {
		return fmt.Errorf("list factors: %w", err)
	}

	var errs []error
	removed := 0
	for _, f := range factors {
		if f.Type != FactorTOTP {
			continue
		}
		if err := s.deps.Factors.UnenrollFactor(ctx, f.ID); err != nil {
			errs = append(errs, fmt.Errorf("unenroll %s: %w", f.ID, err))
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if removed > 0 {
			s.deps.MetricInc(s.deps.Metrics.Ambiguity)
			s.deps.Logger.Warn("mfa disable left factors behind",
				"removed", removed, "failed", len(errs), "error", err)
			err = fmt.Errorf("%w: %d of %d factors removed: %w",
				ErrReconciliationAmbiguity, removed, removed+len(errs), err)
		}
		s.deps.EmitAudit(ctx, s.deps.Events.DisableFailure, false, err, nil)
		return err
	}

	if err := s.deps.Metadata.UpdateProfileMetadata(ctx, map[string]any{MetadataMFAEnabled: false}); err != nil {
		return fmt.Errorf("update profile metadata: %w", err)
	}

	s.deps.MetricInc(s.deps.Metrics.Disabled)
	s.deps.EmitAudit(ctx, s.deps.Events.Disabled, true, nil, func() map[string]string {
		return map[string]string{"factors_removed": fmt.Sprint(removed)}
	})
	return nil
}

// SweepOrphanedFactors unenrolls verified TOTP factors left behind by an explicit
// disable (metadata false). It never runs implicitly and returns the number removed.
func (s *Service) SweepOrphanedFactors(ctx context.Context) (int, error) {
	if s.deps.Factors == nil || s.deps.Metadata == nil {
		return 0, ErrNotReady
	}

	meta, err := s.deps.Metadata.GetProfileMetadata(ctx)
	if err != nil {
		return 0, fmt.Errorf("get profile metadata: %w", err)
	}
	if s.readFlag(ctx, meta) != flagFalse {
		return 0, nil
	}

	factors, err := s.deps.Factors.ListFactors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list factors: %w", err)
	}

	removed := 0
	for _, f := range factors {
		if f.Type != FactorTOTP || f.Status != FactorVerified {
			continue
		}
		if err := s.deps.Factors.UnenrollFactor(ctx, f.ID); err != nil {
			return removed, fmt.Errorf("unenroll %s: %w", f.ID, err)
		}
		removed++
	}

	if removed > 0 {
		s.deps.MetricInc(s.deps.Metrics.OrphansSwept)
		s.deps.EmitAudit(ctx, s.deps.Events.OrphansSwept, true, nil, func() map[string]string {
			return map[string]string{"factors_removed": fmt.Sprint(removed)}
		})
	}
	return removed, nil
}

// splitTOTP returns the first verified and the first unverified TOTP factor.
func splitTOTP(factors []Factor) (verified, pending *Factor) {
	for i := range factors {
		f := &factors[i]
		if f.Type != FactorTOTP {
			continue
		}
		switch f.Status {
		case FactorVerified:
			if verified == nil {
				verified = f
			}
		case FactorUnverified:
			if pending == nil {
				pending = f
			}
		}
	}
	return verified, pending
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func parseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
