package goAuthCore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config

	idp       IdentityProvider
	directory Directory

	redis  redis.UniversalClient
	store  session.Store
	clock  session.Clock
	logger *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the identity provider. Required.
func (b *Builder) WithIdentityProvider(idp IdentityProvider) *Builder {
	b.idp = idp
	return b
}

// WithDirectory sets the tenant and role directory. Required.
func (b *Builder) WithDirectory(dir Directory) *Builder {
	b.directory = dir
	return b
}

// WithRedis persists the session in Redis under Session.RedisPrefix so Restore
// survives a restart. Ignored when WithSessionStore is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore sets a custom session store.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithClock replaces the wall clock used for refresh scheduling and audit
// timestamps. Tests pass a fake clock.
func (b *Builder) WithClock(clock session.Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the session manager, MFA service
// and permission evaluator into a new Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.idp == nil {
		return nil, errors.New("identity provider required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = session.SystemClock()
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil && b.redis != nil {
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.ClientID)
	}
	if store == nil {
		store = session.NewMemoryStore()
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		idp:       b.idp,
		directory: b.directory,
		logger:    logger,
		clock:     clock,
		state:     initialState(),
		subs:      make(map[uint64]func(AuthState)),
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger.With("component", "audit"))
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- SESSION MANAGER --------
	engine.sessions = session.NewManager(b.idp, session.Config{
		RefreshRatio:   cfg.Session.RefreshRatio,
		RefreshTimeout: cfg.Session.RefreshTimeout,
		Clock:          clock,
		Store:          store,
		Logger:         logger.With("component", "session"),
	})
	engine.sessions.OnRefreshed(engine.onRefreshed)
	engine.sessions.OnFailure(engine.onRefreshFailure)

	// -------- MFA --------
	engine.mfa = mfa.NewService(mfa.Config{
		Issuer:             cfg.MFA.Issuer,
		FriendlyName:       cfg.MFA.FriendlyName,
		RecoveryCodeCount:  cfg.MFA.RecoveryCodeCount,
		RecoveryCodeLength: cfg.MFA.RecoveryCodeLength,
	}, mfa.Deps{
		Factors:        b.idp,
		Metadata:       b.idp,
		Reauthenticate: engine.reauthenticate,
		Now:            clock.Now,
		Logger:         logger.With("component", "mfa"),
		MetricInc:      func(id int) { engine.metricInc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, success bool, err error, metadata func() map[string]string) {
			engine.emitAudit(ctx, event, success, err, metadata)
		},
		Metrics: mfa.Metrics{
			EnrollStarted:  int(MetricMFAEnrollStarted),
			VerifySuccess:  int(MetricMFAVerifySuccess),
			VerifyFailure:  int(MetricMFAVerifyFailure),
			Disabled:       int(MetricMFADisabled),
			ReauthFailure:  int(MetricMFAReauthFailure),
			MetadataHealed: int(MetricMFAMetadataHealed),
			Ambiguity:      int(MetricMFAReconciliationAmbiguity),
			OrphansSwept:   int(MetricMFAOrphansSwept),
		},
		Events: mfa.Events{
			EnrollStarted:  auditEventMFAEnrollStarted,
			VerifySuccess:  auditEventMFAVerified,
			VerifyFailure:  auditEventMFAVerifyFailure,
			Disabled:       auditEventMFADisabled,
			DisableFailure: auditEventMFADisableFailure,
			OrphansSwept:   auditEventMFAOrphansSwept,
		},
	})

	// -------- PERMISSIONS --------
	engine.evaluator = permission.Evaluator{
		OnInvalidFormat: func(perm string) {
			engine.metricInc(MetricPermissionInvalidFormat)
			logger.Debug("malformed permission string", "permission", perm)
		},
	}

	b.built = true

	return engine, nil
}
