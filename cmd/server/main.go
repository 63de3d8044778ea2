package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanshika/amlwatch/internal/app"
	"github.com/vanshika/amlwatch/internal/config"
	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/ledgerwatch"
	"github.com/vanshika/amlwatch/internal/logging"
	"github.com/vanshika/amlwatch/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	application, err := app.New(ctx, logger, cfg, app.Options{})
	if err != nil {
		logger.Error("failed to assemble service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			logger.Warn("closing resources failed", "error", err)
		}
	}()

	if cfg.Events.LedgerSocketURL != "" {
		watcher := ledgerwatch.New(ledgerwatch.Options{
			URL:       cfg.Events.LedgerSocketURL,
			Namespace: cfg.Events.Namespace,
		}, logger, func(domain.Block) {
			application.Service.InvalidateChain()
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("ledger watcher stopped", "error", err)
			}
		}()
	} else {
		logger.Info("ledger socket not configured, chain cache relies on its TTL")
	}

	router := server.NewRouter(logger, server.RouterDependencies{
		Health: server.HealthChecks{
			server.GraphHealthService{Client: application.Graph},
			server.RedisHealthService{Client: application.Redis},
		},
		API:              server.NewAPIHandlers(logger, application.Service),
		Idempotency:      application.Idempotency,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
		MetricsEnabled:   cfg.HTTP.MetricsEnabled,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(csv, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
