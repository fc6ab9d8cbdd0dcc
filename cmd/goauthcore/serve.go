package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAuthCore/idp/httpidp"
	"github.com/MrEthical07/goAuthCore/idp/memory"
)

func runServe(ctx context.Context, args []string, logOut io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (overrides GOAUTHCORE_IDP_ADDR)")
	seed := fs.String("seed", "", "TOML seed file (overrides GOAUTHCORE_IDP_SEED_FILE)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadServeConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *seed != "" {
		cfg.SeedFile = *seed
	}

	logger := newLogger(logOut, cfg.LogLevel)

	// Rate limiting needs Redis; without an address it runs on miniredis.
	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" || cfg.RateLimit > 0 {
		client, closeRedis, err := openRedis(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return err
		}
		defer closeRedis()
		rdb = client
	}

	provider, err := newProvider(cfg, rdb, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpidp.NewHandler(provider, httpidp.HandlerOptions{
			Logger:         logger,
			APIKey:         cfg.APIKey,
			TrustForwarded: cfg.TrustForwarded,
			RateLimit: httpidp.RateLimitOptions{
				Redis:  rdb,
				Prefix: cfg.RedisPrefix,
				Limit:  cfg.RateLimit,
				Window: cfg.RateWindow,
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return listenAndServe(ctx, srv, logger)
}

func newProvider(cfg serveConfig, rdb redis.UniversalClient, logger *slog.Logger) (*memory.Provider, error) {
	opts := memory.Options{
		Logger:    logger,
		Issuer:    cfg.Issuer,
		AccessTTL: cfg.AccessTTL,
		Lockout: memory.LockoutConfig{
			Enabled:   cfg.LockoutThreshold > 0,
			Threshold: cfg.LockoutThreshold,
			Window:    cfg.LockoutWindow,
		},
		Mailer: logMailer(logger),
	}
	if rdb != nil {
		opts.Counter = memory.NewRedisCounter(rdb, cfg.RedisPrefix, cfg.LockoutWindow)
	}

	provider, err := memory.New(opts)
	if err != nil {
		return nil, fmt.Errorf("identity provider: %w", err)
	}

	if cfg.SeedFile == "" {
		logger.Warn("no seed file; the directory is empty")
		return provider, nil
	}
	seed, err := memory.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	if err := provider.Apply(seed); err != nil {
		return nil, fmt.Errorf("apply seed %s: %w", cfg.SeedFile, err)
	}
	logger.Info("seed applied", "file", cfg.SeedFile,
		"tenants", len(seed.Tenants), "roles", len(seed.Roles), "users", len(seed.Users))
	return provider, nil
}

// logMailer writes reset tokens to the log at debug level. It stands in for a
// real mail transport in development.
func logMailer(logger *slog.Logger) memory.Mailer {
	return memory.MailerFunc(func(ctx context.Context, email, token string) error {
		logger.DebugContext(ctx, "password reset token issued", "email", email, "token", token)
		return nil
	})
}

func listenAndServe(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "addr", srv.Addr)
	case err, ok := <-serverErr:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}
