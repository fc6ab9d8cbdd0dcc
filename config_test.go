package goAuthCore

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthCore/session"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
		wantMsg   string
	}{
		{
			name:      "defaults valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "refresh ratio valid",
			mutate: func(c *Config) {
				c.Session.RefreshRatio = 0.5
			},
			wantValid: true,
		},
		{
			name: "refresh ratio zero invalid",
			mutate: func(c *Config) {
				c.Session.RefreshRatio = 0
			},
			wantMsg: "RefreshRatio",
		},
		{
			name: "refresh ratio one invalid",
			mutate: func(c *Config) {
				c.Session.RefreshRatio = 1
			},
			wantMsg: "RefreshRatio",
		},
		{
			name: "refresh timeout negative invalid",
			mutate: func(c *Config) {
				c.Session.RefreshTimeout = -time.Second
			},
			wantMsg: "RefreshTimeout",
		},
		{
			name: "redis prefix empty invalid",
			mutate: func(c *Config) {
				c.Session.RedisPrefix = ""
			},
			wantMsg: "RedisPrefix",
		},
		{
			name: "client id empty invalid",
			mutate: func(c *Config) {
				c.Session.ClientID = ""
			},
			wantMsg: "ClientID",
		},
		{
			name: "mfa issuer empty invalid",
			mutate: func(c *Config) {
				c.MFA.Issuer = ""
			},
			wantMsg: "Issuer",
		},
		{
			name: "recovery code count too high",
			mutate: func(c *Config) {
				c.MFA.RecoveryCodeCount = 101
			},
			wantMsg: "RecoveryCodeCount",
		},
		{
			name: "recovery code length too short",
			mutate: func(c *Config) {
				c.MFA.RecoveryCodeLength = 4
			},
			wantMsg: "RecoveryCodeLength",
		},
		{
			name: "audit buffer zero with audit disabled",
			mutate: func(c *Config) {
				c.Audit.BufferSize = 0
			},
			wantValid: true,
		},
		{
			name: "audit buffer zero with audit enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantMsg: "BufferSize",
		},
		{
			name: "latency histograms without metrics",
			mutate: func(c *Config) {
				c.Metrics.EnableLatencyHistograms = true
			},
			wantMsg: "EnableLatencyHistograms",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantMsg, err)
			}
		})
	}
}

func TestDefaultConfigRefreshesAtThreeQuarters(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.RefreshRatio != 0.75 {
		t.Fatalf("expected 0.75, got %v", cfg.Session.RefreshRatio)
	}
	if !cfg.Security.ForceLogoutOnRefreshFailure {
		t.Fatal("expected forced logout on refresh failure by default")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.RefreshRatio = 2

	_, err := New().
		WithConfig(cfg).
		WithIdentityProvider(newFakeIDP(session.SystemClock())).
		WithDirectory(newFakeDirectory()).
		Build()
	if err == nil {
		t.Fatal("expected build error")
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	if _, err := New().WithDirectory(newFakeDirectory()).Build(); err == nil {
		t.Fatal("expected error without identity provider")
	}
	if _, err := New().WithIdentityProvider(newFakeIDP(session.SystemClock())).Build(); err == nil {
		t.Fatal("expected error without directory")
	}
}

func TestConfigFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("GOAUTHCORE_SESSION_REFRESH_RATIO", "0.5")
	t.Setenv("GOAUTHCORE_SESSION_CLIENT_ID", "tab-7")
	t.Setenv("GOAUTHCORE_AUDIT_ENABLED", "true")
	t.Setenv("GOAUTHCORE_SECURITY_FORCE_LOGOUT_ON_REFRESH_FAILURE", "false")

	cfg, err := ConfigFromEnv("GOAUTHCORE")
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Session.RefreshRatio != 0.5 {
		t.Fatalf("expected ratio 0.5, got %v", cfg.Session.RefreshRatio)
	}
	if cfg.Session.ClientID != "tab-7" {
		t.Fatalf("expected client id tab-7, got %q", cfg.Session.ClientID)
	}
	if !cfg.Audit.Enabled {
		t.Fatal("expected audit enabled")
	}
	if cfg.Security.ForceLogoutOnRefreshFailure {
		t.Fatal("expected forced logout disabled")
	}
	if cfg.MFA.RecoveryCodeCount != 10 {
		t.Fatalf("expected default recovery code count, got %d", cfg.MFA.RecoveryCodeCount)
	}
}

func TestConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("GOAUTHCORE_SESSION_REFRESH_RATIO", "1.5")
	if _, err := ConfigFromEnv("GOAUTHCORE"); err == nil {
		t.Fatal("expected validation error")
	}

	t.Setenv("GOAUTHCORE_SESSION_REFRESH_RATIO", "not-a-number")
	if _, err := ConfigFromEnv("GOAUTHCORE"); err == nil {
		t.Fatal("expected parse error")
	}
}
