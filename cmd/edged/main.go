// SPDX-License-Identifier: MIT

// Command edged runs the edge authorization daemon: the HTTP surface edge
// gateways call before serving segments, manifests and keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelverse/edgeauth/internal/api"
	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/config"
	"github.com/reelverse/edgeauth/internal/edge"
	xglog "github.com/reelverse/edgeauth/internal/log"
	"github.com/reelverse/edgeauth/internal/manifest"
	"github.com/reelverse/edgeauth/internal/ticket"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "edged",
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if *configPath != "" {
		logger.Info().
			Str(xglog.FieldEvent, "config.loaded").
			Str("path", *configPath).
			Msg("loaded configuration from file")
	}

	deps := edge.Deps{
		// Upstream integrations are wired by the deployment; without them
		// the daemon fails closed on every ticket and serves no manifests.
		Resolver: ticket.DenyAllResolver(),
		Fetcher: manifest.FetcherFunc(func(_ context.Context, contentID string, _ authz.ManifestType) (string, error) {
			return "", fmt.Errorf("no origin configured for content %q", contentID)
		}),
	}
	logger.Warn().
		Str(xglog.FieldEvent, "upstream.unconfigured").
		Msg("no ticket resolver or origin fetcher configured; all requests will be denied")

	if cfg.RedisAddr != "" {
		cache, err := authz.NewRedisCache(authz.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, xglog.WithComponent("rediscache"))
		if err != nil {
			logger.Fatal().
				Err(err).
				Str(xglog.FieldEvent, "redis.connect_failed").
				Str("addr", cfg.RedisAddr).
				Msg("failed to connect to redis")
		}
		deps.DecisionCache = cache
		logger.Info().
			Str(xglog.FieldEvent, "cache.backend").
			Str("addr", cfg.RedisAddr).
			Msg("using redis authorization cache")
	}

	svc := edge.New(cfg, deps)
	defer svc.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(cfg, svc, version).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str(xglog.FieldEvent, "server.listen").
			Str("addr", cfg.ListenAddr).
			Str("version", version).
			Msg("edge authorization daemon listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().
			Str(xglog.FieldEvent, "server.shutdown").
			Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().
				Err(err).
				Str(xglog.FieldEvent, "server.failed").
				Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "server.shutdown_failed").
			Msg("graceful shutdown failed")
	}
	logger.Info().
		Str(xglog.FieldEvent, "server.stopped").
		Msg("edge authorization daemon stopped")
}
