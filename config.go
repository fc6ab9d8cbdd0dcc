package goAuthCore

import (
	"errors"
	"time"
)

// Config holds every tunable of the Engine. Obtain defaults from DefaultConfig or
// ConfigFromEnv and override fields before passing it to Builder.WithConfig.
type Config struct {
	Session  SessionConfig
	MFA      MFAConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh scheduling and session persistence.
type SessionConfig struct {
	// RefreshRatio is the fraction of the token lifetime after which a refresh fires.
	RefreshRatio float64
	// RefreshTimeout bounds a background refresh call. Zero means no bound.
	RefreshTimeout time.Duration
	// RedisPrefix namespaces persisted sessions when a Redis client is supplied.
	RedisPrefix string
	// ClientID identifies this client's persisted session.
	ClientID string
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP enrollment and recovery codes.
type MFAConfig struct {
	Issuer             string
	FriendlyName       string
	RecoveryCodeCount  int
	RecoveryCodeLength int
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds policy switches.
type SecurityConfig struct {
	// ForceLogoutOnRefreshFailure signs the principal out when a background refresh
	// fails. When false the state keeps the principal but records LastError and
	// drops the session, so the next provider call fails.
	ForceLogoutOnRefreshFailure bool
	// AuditSuperadminBypass records an audit event every time the superadmin flag
	// short-circuits a permission check.
	AuditSuperadminBypass bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when Builder.WithConfig is not called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RefreshRatio:   0.75,
			RefreshTimeout: 15 * time.Second,
			RedisPrefix:    "gac",
			ClientID:       "default",
		},
		MFA: MFAConfig{
			Issuer:             "goAuthCore",
			FriendlyName:       "Authenticator app",
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 10,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ForceLogoutOnRefreshFailure: true,
			AuditSuperadminBypass:       true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Session
	if c.Session.RefreshRatio <= 0 || c.Session.RefreshRatio >= 1 {
		return errors.New("Session RefreshRatio must be in (0, 1)")
	}
	if c.Session.RefreshTimeout < 0 {
		return errors.New("Session RefreshTimeout must be >= 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.ClientID == "" {
		return errors.New("Session ClientID must not be empty")
	}

	// MFA
	if c.MFA.Issuer == "" {
		return errors.New("MFA Issuer must not be empty")
	}
	if c.MFA.RecoveryCodeCount < 1 || c.MFA.RecoveryCodeCount > 100 {
		return errors.New("MFA RecoveryCodeCount must be between 1 and 100")
	}
	if c.MFA.RecoveryCodeLength < 8 || c.MFA.RecoveryCodeLength > 32 {
		return errors.New("MFA RecoveryCodeLength must be between 8 and 32")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
