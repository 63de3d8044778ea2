// Package app assembles the monitor service from configuration. It is shared
// by the HTTP server and the amlctl CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/vanshika/amlwatch/internal/config"
	"github.com/vanshika/amlwatch/internal/graph"
	"github.com/vanshika/amlwatch/internal/idempotency"
	"github.com/vanshika/amlwatch/internal/repository"
	"github.com/vanshika/amlwatch/internal/service"
	"github.com/vanshika/amlwatch/internal/session"
	"github.com/vanshika/amlwatch/internal/upstream"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service     *service.MonitorService
	Graph       graph.Client
	Redis       *redis.Client
	Sessions    session.Store
	Idempotency idempotency.Store
}

// Options tunes assembly beyond what configuration carries.
type Options struct {
	SyncWorkers int
}

// New wires the upstream clients, stores and service. The graph store and
// Redis are optional: without GRAPH_URI the stored-graph features are off,
// and without REDIS_ADDR sessions and idempotency keys live in process.
func New(ctx context.Context, logger *slog.Logger, cfg config.Config, opts Options) (*App, error) {
	a := &App{}

	var repo service.FlaggedRepository
	graphClient, err := graph.NewNeo4jClient(ctx, graph.OptionsFromConfig(cfg.Graph))
	switch {
	case errors.Is(err, graph.ErrMissingURI):
		logger.Warn("graph store disabled, stored-graph endpoints will report unavailable")
	case err != nil:
		return nil, fmt.Errorf("connect graph store: %w", err)
	default:
		a.Graph = graphClient
		repo = repository.New(graphClient)
	}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Sessions = session.NewRedisStore(a.Redis, cfg.Session.TTL)
		a.Idempotency = idempotency.NewRedisStore(a.Redis, cfg.Redis.IdempotencyTTL)
	} else {
		logger.Warn("redis not configured, sessions are process-local")
		a.Sessions = session.NewMemoryStore(cfg.Session.TTL)
		a.Idempotency = idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	}

	a.Service = service.NewMonitorService(
		upstream.NewAuthClient(upstreamOptions(cfg.Upstream, cfg.Upstream.AuthURL)),
		upstream.NewLedgerClient(upstreamOptions(cfg.Upstream, cfg.Upstream.LedgerURL)),
		upstream.NewAuditorClient(upstreamOptions(cfg.Upstream, cfg.Upstream.AuditorURL)),
		a.Sessions,
		repo,
		service.Options{
			JWTSecret:   cfg.Session.JWTSecret,
			ChainTTL:    cfg.Cache.ChainTTL,
			SyncWorkers: opts.SyncWorkers,
		},
	)
	return a, nil
}

// Close releases the graph driver and Redis connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Graph != nil {
		if err := a.Graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close graph client: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func upstreamOptions(cfg config.UpstreamConfig, baseURL string) upstream.Options {
	return upstream.Options{
		BaseURL:   baseURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
}
