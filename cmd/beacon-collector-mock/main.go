// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/beacon-telemetry/beacon/lib/config"
	"github.com/beacon-telemetry/beacon/lib/process"
	"github.com/beacon-telemetry/beacon/lib/version"
)

// shutdownTimeout bounds how long open connections get to finish once
// a signal arrives.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options holds the parsed command line.
type options struct {
	listen      string
	keys        []string
	maxSkew     time.Duration
	failStatus  int
	failCount   int
	logFormat   string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet("beacon-collector-mock", pflag.ContinueOnError)
	flagSet.StringVar(&parsed.listen, "listen", "127.0.0.1:8000", "address to serve on")
	flagSet.StringArrayVar(&parsed.keys, "key", nil,
		"accepted credentials as key:secret (repeatable; default from $"+config.EnvAPIKey+" and $"+config.EnvAPISecret+")")
	flagSet.DurationVar(&parsed.maxSkew, "max-skew", 0, "allowed X-TIMESTAMP drift (0 for the default, negative to disable)")
	flagSet.IntVar(&parsed.failStatus, "fail-status", 0, "status to answer verified batches with instead of accepting them")
	flagSet.IntVar(&parsed.failCount, "fail-count", 1, "number of batches answered with --fail-status")
	flagSet.StringVar(&parsed.logFormat, "log-format", "auto", "log format: auto, text, or json")
	flagSet.StringVar(&parsed.logLevel, "log-level", "info", "minimum log level")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, &process.UsageError{Err: err}
	}
	if flagSet.NArg() > 0 {
		return nil, &process.UsageError{Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}
	return &parsed, nil
}

// parseKeys turns key:secret pairs into a lookup table. With no pairs
// the BEACON_API_KEY and BEACON_API_SECRET variables supply one.
func parseKeys(pairs []string) (map[string]string, error) {
	secrets := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, secret, ok := strings.Cut(pair, ":")
		if !ok || key == "" || secret == "" {
			return nil, &process.UsageError{Err: fmt.Errorf("--key %q must be key:secret", pair)}
		}
		secrets[key] = secret
	}
	if len(secrets) == 0 {
		key, secret := os.Getenv(config.EnvAPIKey), os.Getenv(config.EnvAPISecret)
		if key == "" || secret == "" {
			return nil, &process.UsageError{Err: fmt.Errorf("no credentials: pass --key or set %s and %s",
				config.EnvAPIKey, config.EnvAPISecret)}
		}
		secrets[key] = secret
	}
	return secrets, nil
}

// newLogger writes text to a terminal and JSON everywhere else.
func newLogger(format, level string, file *os.File) (*slog.Logger, error) {
	var minimum slog.Level
	if err := minimum.UnmarshalText([]byte(level)); err != nil {
		return nil, &process.UsageError{Err: fmt.Errorf("--log-level: %w", err)}
	}
	handlerOptions := &slog.HandlerOptions{Level: minimum}

	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(file, handlerOptions)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(file, handlerOptions)), nil
	}
	return nil, &process.UsageError{Err: fmt.Errorf("--log-format must be auto, text, or json, got %q", format)}
}

func run(args []string) error {
	parsed, err := parseFlags(args)
	if err != nil {
		return err
	}
	if parsed.showVersion {
		version.Print("beacon-collector-mock")
		return nil
	}

	logger, err := newLogger(parsed.logFormat, parsed.logLevel, os.Stderr)
	if err != nil {
		return err
	}
	secrets, err := parseKeys(parsed.keys)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := newCollector(collectorConfig{
		Secrets:    secrets,
		MaxSkew:    parsed.maxSkew,
		FailStatus: parsed.failStatus,
		FailCount:  parsed.failCount,
		Logger:     logger,
	})

	listener, err := net.Listen("tcp", parsed.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", parsed.listen, err)
	}
	server := &http.Server{
		Handler:           mock.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		// Request contexts end with the signal so /subscribe streams
		// let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()

	keys := make([]string, 0, len(secrets))
	for key := range secrets {
		keys = append(keys, key)
	}
	logger.Info("collector mock running",
		"address", listener.Addr().String(),
		"ingest", "http://"+listener.Addr().String()+"/ingest",
		"api_keys", strings.Join(keys, ","),
		"version", version.Info(),
	)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("shutting down")

	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownContext); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
