package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"ratelimiter/internal/clock"
	"ratelimiter/internal/limiter"
)

// EngineLimiter is a Limiter backed by a private limiter.Engine. Each key gets
// a bucket holding burst tokens that refills at requestsPerMinute/60 per
// second. Buckets idle for twice the cleanup interval are evicted.
type EngineLimiter struct {
	engine  *limiter.Engine
	evictor *limiter.Evictor
	clock   clock.Clock
	limit   int
}

// NewEngineLimiter creates a limiter and starts its eviction goroutine.
func NewEngineLimiter(requestsPerMinute, burst int, cleanupInterval time.Duration) (*EngineLimiter, error) {
	return newEngineLimiter(requestsPerMinute, burst, cleanupInterval, clock.System{})
}

func newEngineLimiter(requestsPerMinute, burst int, cleanupInterval time.Duration, clk clock.Clock) (*EngineLimiter, error) {
	if requestsPerMinute <= 0 || burst <= 0 {
		return nil, fmt.Errorf("requests per minute and burst must be positive, got %d and %d", requestsPerMinute, burst)
	}
	if cleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive, got %s", cleanupInterval)
	}

	engine, err := limiter.New(
		limiter.WithClock(clk),
		limiter.WithDefaultConfig(limiter.Config{
			Capacity:   float64(burst),
			RefillRate: float64(requestsPerMinute) / 60,
		}),
		limiter.WithLogCapacity(1),
		limiter.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, err
	}

	evictor := limiter.NewEvictor(engine, 2*cleanupInterval, cleanupInterval)
	evictor.Start()

	return &EngineLimiter{
		engine:  engine,
		evictor: evictor,
		clock:   clk,
		limit:   burst,
	}, nil
}

// Allow spends one token from key's bucket.
func (l *EngineLimiter) Allow(key string) (bool, Info) {
	if key == "" {
		key = "unknown"
	}

	d, err := l.engine.Check(key, 1, limiter.Config{})
	if err != nil {
		// Only reachable with a bad key or config, both ruled out above.
		return true, Info{Limit: l.limit, Remaining: l.limit, ResetAt: l.clock.Now()}
	}

	now := l.clock.Now()
	info := Info{
		Limit:     l.limit,
		Remaining: int(d.Remaining),
	}
	if d.Allowed {
		info.ResetAt = now.Add(seconds(d.ResetIn))
	} else {
		info.RetryAfter = seconds(d.RetryAfter)
		info.ResetAt = now.Add(seconds((d.Limit - d.Tokens) / l.engine.Defaults().RefillRate))
	}
	return d.Allowed, info
}

// Buckets reports how many client IPs are currently tracked.
func (l *EngineLimiter) Buckets() int {
	return l.engine.BucketCount()
}

// Close stops the eviction goroutine.
func (l *EngineLimiter) Close() {
	l.evictor.Close()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
