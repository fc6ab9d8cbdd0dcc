// Command goauthcore runs the reference identity server and a command-line
// session against it.
//
//	goauthcore serve   [-addr :9999] [-seed seed.toml]
//	goauthcore session -email alice@acme.test [-tenant acme] [-role acme-admin] [-enroll-mfa]
//
// serve reads GOAUTHCORE_IDP_* variables, session reads GOAUTHCORE_* variables
// (including the Engine keys such as GOAUTHCORE_SESSION_REFRESH_RATIO). The
// session password comes from GOAUTHCORE_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:], os.Stderr)
	case "session":
		err = runSession(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("goauthcore failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: goauthcore serve|session [flags]")
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
