package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"ratelimiter/internal/api"
	"ratelimiter/internal/limiter"
	"ratelimiter/internal/models"
	"ratelimiter/internal/observability"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/service"
	"ratelimiter/internal/storage"
	"ratelimiter/internal/version"

	"github.com/prometheus/client_golang/prometheus"
)

// app owns every long-lived component of a running service.
type app struct {
	cfg      *models.Config
	logger   *slog.Logger
	provider *observability.Provider

	engine      *limiter.Engine
	store       storage.Storage
	snapshotter *storage.Snapshotter
	evictor     *limiter.Evictor
	apiLimiter  *ratelimit.EngineLimiter

	handler http.Handler
}

// newApp assembles the service: engine, persistence (restored before the
// first request), reporting service and router. On error, anything already
// started is shut down again.
func newApp(ctx context.Context, cfg *models.Config, logger *slog.Logger, ver version.Info) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.close(context.Background()); cerr != nil {
				logger.Error("Cleanup after failed startup", "error", cerr)
			}
			a = nil
		}
	}()

	// Initialize observability (OpenTelemetry)
	a.provider, err = observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return a, fmt.Errorf("failed to initialize observability: %w", err)
	}

	a.engine, err = limiter.New(
		limiter.WithDefaultConfig(limiter.Config{
			Capacity:   cfg.Limits.DefaultCapacity,
			RefillRate: cfg.Limits.DefaultRefillRate,
		}),
		limiter.WithShards(cfg.Limits.Shards),
		limiter.WithLogCapacity(cfg.Limits.LogCapacity),
		limiter.WithLogger(logger),
	)
	if err != nil {
		return a, fmt.Errorf("failed to create engine: %w", err)
	}

	if err := a.initStorage(ctx); err != nil {
		return a, err
	}

	if cfg.Limits.IdleTTL > 0 {
		a.evictor = limiter.NewEvictor(a.engine, cfg.Limits.IdleTTL, cfg.Limits.EvictionInterval)
		a.evictor.Start()
	}

	// Wrap the engine with instrumentation if metrics are enabled
	var engine service.Engine = service.WrapEngine(a.engine)
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedEngine(engine)
		if err != nil {
			return a, fmt.Errorf("failed to create instrumented engine: %w", err)
		}
		engine = instrumented

		if err := observability.RegisterEngineCollector(prometheus.DefaultRegisterer, a.engine); err != nil {
			return a, fmt.Errorf("failed to register engine collector: %w", err)
		}
	}

	svc := service.NewService(engine, cfg.Limits.RecentLogs, cfg.Limits.LogCapacity)
	handlers := api.NewHandlers(svc,
		api.WithStorage(a.store),
		api.WithVersion(ver.Version),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.Security.RateLimit.Enabled {
		rl := cfg.Security.RateLimit
		a.apiLimiter, err = ratelimit.NewEngineLimiter(rl.RequestsPerMinute, rl.BurstSize, rl.CleanupInterval)
		if err != nil {
			return a, fmt.Errorf("failed to create API rate limiter: %w", err)
		}
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(a.apiLimiter, ratelimit.WithLogger(a.logger))))
	}

	a.handler = api.SetupRoutes(handlers, cfg, routeOpts...)
	return a, nil
}

// initStorage opens the snapshot store, restores saved buckets into the
// engine and starts the periodic snapshot.
func (a *app) initStorage(ctx context.Context) error {
	store, err := storage.NewFactory().Create(a.cfg.Persistence)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	// Wrap storage with instrumentation if metrics are enabled
	if a.cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store, a.cfg.Persistence.Type)
		if err != nil {
			return fmt.Errorf("failed to create instrumented storage: %w", err)
		}
		a.store = instrumented
	}

	a.snapshotter = storage.NewSnapshotter(a.engine, a.store, a.cfg.Persistence.SnapshotInterval, a.logger)
	if _, err := a.snapshotter.Restore(ctx); err != nil {
		// Missing state only means fuller buckets; keep serving.
		a.logger.Error("Failed to restore buckets, starting empty", "error", err, "backend", a.cfg.Persistence.Type)
	}
	a.snapshotter.Start()
	return nil
}

// close stops background work, writes the final snapshot and releases the
// store and telemetry providers. It is safe on a partially built app.
func (a *app) close(ctx context.Context) error {
	var errs []error

	if a.apiLimiter != nil {
		a.apiLimiter.Close()
	}
	if a.evictor != nil {
		a.evictor.Close()
	}
	if a.snapshotter != nil {
		if err := a.snapshotter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
		}
	}

	return errors.Join(errs...)
}
