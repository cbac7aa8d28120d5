package service

import (
	"context"
	"time"

	"ratelimiter/internal/limiter"
	"ratelimiter/internal/models"
)

// ServiceInterface defines the rate limit operations exposed over HTTP
type ServiceInterface interface {
	// Check spends tokens from a client's bucket and reports the decision
	Check(ctx context.Context, req *models.CheckRequest) (*models.CheckResponse, error)

	// Burst runs several checks back to back for one client
	Burst(ctx context.Context, req *models.BurstRequest) (*models.BurstResponse, error)

	// Status describes a client's bucket without spending anything
	Status(ctx context.Context, clientKey string) (*models.StatusResponse, error)

	// Metrics returns counters, recent decisions and every active bucket
	Metrics(ctx context.Context) (*models.MetricsResponse, error)

	// Logs returns up to limit recent decisions, newest first
	Logs(ctx context.Context, limit int) (*models.LogsResponse, error)

	// Buckets lists every active bucket
	Buckets(ctx context.Context) (*models.BucketsResponse, error)

	// Reset clears one bucket or the aggregate counters
	Reset(ctx context.Context, req *models.ResetRequest) (*models.MessageResponse, error)

	// Stats reports engine size for health checks
	Stats(ctx context.Context) Stats
}

// Engine is the admission engine as seen by the service. It mirrors
// limiter.Engine with a context on every call so a decorator can trace it.
type Engine interface {
	Check(ctx context.Context, key string, requested float64, cfg limiter.Config) (limiter.Decision, error)
	Status(ctx context.Context, key string) (limiter.State, bool, error)
	Buckets(ctx context.Context) []limiter.State
	Metrics(ctx context.Context) limiter.Counters
	Logs(ctx context.Context, limit int) []limiter.LogEntry
	ResetBucket(ctx context.Context, key string) error
	ResetAll(ctx context.Context)
	BucketCount() int
	LogSize() int
	Defaults() limiter.Config
	Now() time.Time
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)

// Ensure the plain adapter satisfies Engine
var _ Engine = (*engineAdapter)(nil)
