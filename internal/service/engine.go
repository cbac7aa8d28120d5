package service

import (
	"context"
	"time"

	"ratelimiter/internal/limiter"
)

// engineAdapter exposes a *limiter.Engine through the Engine interface.
// The engine never blocks, so the contexts are ignored.
type engineAdapter struct {
	e *limiter.Engine
}

// WrapEngine adapts e for use by the service without instrumentation.
func WrapEngine(e *limiter.Engine) Engine {
	return &engineAdapter{e: e}
}

func (a *engineAdapter) Check(_ context.Context, key string, requested float64, cfg limiter.Config) (limiter.Decision, error) {
	return a.e.Check(key, requested, cfg)
}

func (a *engineAdapter) Status(_ context.Context, key string) (limiter.State, bool, error) {
	return a.e.Status(key)
}

func (a *engineAdapter) Buckets(context.Context) []limiter.State {
	return a.e.Buckets()
}

func (a *engineAdapter) Metrics(context.Context) limiter.Counters {
	return a.e.Metrics()
}

func (a *engineAdapter) Logs(_ context.Context, limit int) []limiter.LogEntry {
	return a.e.Logs(limit)
}

func (a *engineAdapter) ResetBucket(_ context.Context, key string) error {
	return a.e.ResetBucket(key)
}

func (a *engineAdapter) ResetAll(context.Context) {
	a.e.ResetAll()
}

func (a *engineAdapter) BucketCount() int         { return a.e.BucketCount() }
func (a *engineAdapter) LogSize() int             { return a.e.LogSize() }
func (a *engineAdapter) Defaults() limiter.Config { return a.e.Defaults() }
func (a *engineAdapter) Now() time.Time           { return a.e.Now() }
