package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// serveConfig is read from GOAUTHCORE_IDP_* variables.
type serveConfig struct {
	Addr             string        `envconfig:"ADDR" default:":9999"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	SeedFile         string        `envconfig:"SEED_FILE"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPrefix      string        `envconfig:"REDIS_PREFIX" default:"goauthcore"`
	APIKey           string        `envconfig:"API_KEY"`
	TrustForwarded   bool          `envconfig:"TRUST_FORWARDED"`
	Issuer           string        `envconfig:"ISSUER" default:"goAuthCore"`
	AccessTTL        time.Duration `envconfig:"ACCESS_TTL" default:"1h"`
	LockoutThreshold int           `envconfig:"LOCKOUT_THRESHOLD" default:"5"`
	LockoutWindow    time.Duration `envconfig:"LOCKOUT_WINDOW" default:"15m"`
	RateLimit        int           `envconfig:"RATE_LIMIT"`
	RateWindow       time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
}

func loadServeConfig() (serveConfig, error) {
	var cfg serveConfig
	if err := envconfig.Process("GOAUTHCORE_IDP", &cfg); err != nil {
		return serveConfig{}, err
	}
	if cfg.LockoutThreshold < 0 {
		return serveConfig{}, fmt.Errorf("lockout threshold must be >= 0, got %d", cfg.LockoutThreshold)
	}
	if cfg.RateLimit < 0 {
		return serveConfig{}, fmt.Errorf("rate limit must be >= 0, got %d", cfg.RateLimit)
	}
	return cfg, nil
}

// sessionConfig is read from GOAUTHCORE_* variables. With no IDPURL the session
// runs against an in-process provider seeded from SeedFile.
type sessionConfig struct {
	IDPURL         string `envconfig:"IDP_URL"`
	IDPAPIKey      string `envconfig:"IDP_API_KEY"`
	SeedFile       string `envconfig:"SEED_FILE"`
	Password       string `envconfig:"PASSWORD"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr    string `envconfig:"METRICS_ADDR"`
	MetricsBackend string `envconfig:"METRICS_BACKEND" default:"otel"`
}

func loadSessionConfig() (sessionConfig, error) {
	var cfg sessionConfig
	if err := envconfig.Process("GOAUTHCORE", &cfg); err != nil {
		return sessionConfig{}, err
	}
	switch cfg.MetricsBackend {
	case metricsOTel, metricsPrometheus:
	default:
		return sessionConfig{}, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
	return cfg, nil
}
