package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/idp/httpidp"
	"github.com/MrEthical07/goAuthCore/mfa"
)

type sessionFlags struct {
	email     string
	tenant    string
	role      string
	enrollMFA bool
	hold      time.Duration
	keep      bool
}

func runSession(ctx context.Context, args []string, out, logOut io.Writer) error {
	var flags sessionFlags
	fs := flag.NewFlagSet("session", flag.ContinueOnError)
	fs.StringVar(&flags.email, "email", "", "principal email")
	fs.StringVar(&flags.tenant, "tenant", "", "tenant to enter after sign-in")
	fs.StringVar(&flags.role, "role", "", "role to switch to after sign-in")
	fs.BoolVar(&flags.enrollMFA, "enroll-mfa", false, "start TOTP enrollment and print the otpauth URI")
	fs.DurationVar(&flags.hold, "hold", 0, "keep the session alive this long; 0 waits for a signal")
	fs.BoolVar(&flags.keep, "keep", false, "leave the session persisted instead of signing out on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadSessionConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	engineCfg, err := goAuthCore.ConfigFromEnv("GOAUTHCORE")
	if err != nil {
		return fmt.Errorf("load engine configuration: %w", err)
	}
	if cfg.MetricsAddr != "" {
		engineCfg.Metrics.Enabled = true
	}

	logger := newLogger(logOut, cfg.LogLevel)

	idp, dir, err := identityBackend(cfg, logger)
	if err != nil {
		return err
	}
	rdb, closeRedis, err := openRedis(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	engine, err := goAuthCore.New().
		WithConfig(engineCfg).
		WithIdentityProvider(idp).
		WithDirectory(dir).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(goAuthCore.NewSlogSink(logger.With("component", "audit"))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	unsubscribe := engine.Subscribe(func(st goAuthCore.AuthState) {
		logger.Info("auth state changed", stateAttrs(st)...)
	})
	defer unsubscribe()

	if cfg.MetricsAddr != "" {
		handler, release, err := newMetricsHandler(cfg.MetricsBackend, engine)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(); err != nil {
				logger.Warn("release metrics backend failed", "error", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := listenAndServe(metricsCtx, srv, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := signIn(ctx, engine, flags.email, cfg.Password); err != nil {
		return err
	}
	if flags.tenant != "" {
		if err := engine.SwitchTenant(ctx, flags.tenant); err != nil {
			return err
		}
	}
	if flags.role != "" {
		if err := engine.SwitchRole(ctx, flags.role); err != nil {
			return err
		}
	}
	if err := printState(out, engine.State()); err != nil {
		return err
	}
	if flags.enrollMFA {
		if err := enrollMFA(ctx, engine, out); err != nil {
			return err
		}
	}

	hold(ctx, flags.hold)

	if flags.keep {
		logger.Info("session kept", "user_id", userID(engine.State()))
		return nil
	}
	return engine.Logout(context.Background())
}

func identityBackend(cfg sessionConfig, logger *slog.Logger) (goAuthCore.IdentityProvider, goAuthCore.Directory, error) {
	if cfg.IDPURL != "" {
		client, err := httpidp.NewClient(cfg.IDPURL, httpidp.ClientOptions{APIKey: cfg.IDPAPIKey})
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}

	provider, err := newProvider(serveConfig{
		SeedFile:         cfg.SeedFile,
		Issuer:           "goAuthCore",
		AccessTTL:        time.Hour,
		LockoutThreshold: 5,
		LockoutWindow:    15 * time.Minute,
	}, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return provider, provider, nil
}

// signIn resumes a persisted session, or logs in with email and password when
// there is none.
func signIn(ctx context.Context, engine *goAuthCore.Engine, email, password string) error {
	if err := engine.Restore(ctx); err != nil {
		return err
	}
	st := engine.State()
	if st.IsAuthenticated && (email == "" || st.User.Email == email) {
		return nil
	}
	if st.IsAuthenticated {
		if err := engine.Logout(ctx); err != nil {
			return err
		}
	}
	if email == "" || password == "" {
		return errors.New("no persisted session: -email and GOAUTHCORE_PASSWORD are required")
	}
	return engine.Login(ctx, goAuthCore.Credentials{Email: email, Password: password})
}

func enrollMFA(ctx context.Context, engine *goAuthCore.Engine, out io.Writer) error {
	flow, status, err := engine.BeginMFAFlow(ctx)
	if err != nil {
		return err
	}
	if flow.Step() != mfa.StepSetup {
		_, err := fmt.Fprintf(out, "mfa already enabled (factor %s)\n", status.FactorID)
		return err
	}

	enrollment, err := engine.EnrollMFA(ctx, "")
	if err != nil {
		return err
	}
	if err := flow.Enrolled(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "scan this URI with an authenticator app, then verify:\n%s\n", enrollment.URI)
	return err
}

func hold(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type stateView struct {
	UserID          string   `json:"user_id,omitempty"`
	Email           string   `json:"email,omitempty"`
	Tenant          string   `json:"tenant,omitempty"`
	Role            string   `json:"role,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	Tenants         []string `json:"tenants,omitempty"`
	Authenticated   bool     `json:"authenticated"`
	Superadmin      bool     `json:"superadmin"`
	Impersonating   bool     `json:"impersonating"`
	MFAEnabled      bool     `json:"mfa_enabled"`
	SessionExpireAt string   `json:"session_expires_at,omitempty"`
}

func viewOf(st goAuthCore.AuthState) stateView {
	v := stateView{
		Authenticated: st.IsAuthenticated,
		Superadmin:    st.IsSuperadmin,
		Impersonating: st.IsImpersonating,
	}
	if st.User != nil {
		v.UserID = st.User.ID
		v.Email = st.User.Email
		v.MFAEnabled = st.User.SecurityPreferences.MFAEnabled
	}
	if st.Tenant != nil {
		v.Tenant = st.Tenant.ID
	}
	if st.CurrentRole != nil {
		v.Role = st.CurrentRole.ID
		for _, p := range st.CurrentRole.Permissions {
			v.Permissions = append(v.Permissions, p.String())
		}
	}
	for _, t := range st.AvailableTenants {
		v.Tenants = append(v.Tenants, t.ID)
	}
	if st.Session != nil {
		v.SessionExpireAt = st.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return v
}

func printState(out io.Writer, st goAuthCore.AuthState) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(viewOf(st))
}

func stateAttrs(st goAuthCore.AuthState) []any {
	v := viewOf(st)
	return []any{
		"authenticated", v.Authenticated,
		"user_id", v.UserID,
		"tenant", v.Tenant,
		"role", v.Role,
		"impersonating", v.Impersonating,
	}
}

func userID(st goAuthCore.AuthState) string {
	if st.User == nil {
		return ""
	}
	return st.User.ID
}
