package goAuthCore

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envConfig is the flat environment view of Config. Unset variables keep the
// defaults from defaultConfig.
type envConfig struct {
	RefreshRatio   float64       `envconfig:"SESSION_REFRESH_RATIO"`
	RefreshTimeout time.Duration `envconfig:"SESSION_REFRESH_TIMEOUT"`
	RedisPrefix    string        `envconfig:"SESSION_REDIS_PREFIX"`
	ClientID       string        `envconfig:"SESSION_CLIENT_ID"`

	MFAIssuer             string `envconfig:"MFA_ISSUER"`
	MFAFriendlyName       string `envconfig:"MFA_FRIENDLY_NAME"`
	MFARecoveryCodeCount  int    `envconfig:"MFA_RECOVERY_CODE_COUNT"`
	MFARecoveryCodeLength int    `envconfig:"MFA_RECOVERY_CODE_LENGTH"`

	AuditEnabled    *bool `envconfig:"AUDIT_ENABLED"`
	AuditBufferSize int   `envconfig:"AUDIT_BUFFER_SIZE"`
	AuditDropIfFull *bool `envconfig:"AUDIT_DROP_IF_FULL"`

	MetricsEnabled *bool `envconfig:"METRICS_ENABLED"`
	MetricsLatency *bool `envconfig:"METRICS_LATENCY_HISTOGRAMS"`

	ForceLogoutOnRefreshFailure *bool `envconfig:"SECURITY_FORCE_LOGOUT_ON_REFRESH_FAILURE"`
	AuditSuperadminBypass       *bool `envconfig:"SECURITY_AUDIT_SUPERADMIN_BYPASS"`
}

// ConfigFromEnv overlays environment variables named {prefix}_{KEY} (for example
// GOAUTHCORE_SESSION_REFRESH_RATIO) onto the default configuration and validates
// the result.
func ConfigFromEnv(prefix string) (Config, error) {
	var env envConfig
	if err := envconfig.Process(prefix, &env); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()

	if env.RefreshRatio != 0 {
		cfg.Session.RefreshRatio = env.RefreshRatio
	}
	if env.RefreshTimeout != 0 {
		cfg.Session.RefreshTimeout = env.RefreshTimeout
	}
	setString(&cfg.Session.RedisPrefix, env.RedisPrefix)
	setString(&cfg.Session.ClientID, env.ClientID)

	setString(&cfg.MFA.Issuer, env.MFAIssuer)
	setString(&cfg.MFA.FriendlyName, env.MFAFriendlyName)
	setInt(&cfg.MFA.RecoveryCodeCount, env.MFARecoveryCodeCount)
	setInt(&cfg.MFA.RecoveryCodeLength, env.MFARecoveryCodeLength)

	setBool(&cfg.Audit.Enabled, env.AuditEnabled)
	setInt(&cfg.Audit.BufferSize, env.AuditBufferSize)
	setBool(&cfg.Audit.DropIfFull, env.AuditDropIfFull)

	setBool(&cfg.Metrics.Enabled, env.MetricsEnabled)
	setBool(&cfg.Metrics.EnableLatencyHistograms, env.MetricsLatency)

	setBool(&cfg.Security.ForceLogoutOnRefreshFailure, env.ForceLogoutOnRefreshFailure)
	setBool(&cfg.Security.AuditSuperadminBypass, env.AuditSuperadminBypass)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
