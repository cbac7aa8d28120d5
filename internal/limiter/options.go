package limiter

import (
	"log/slog"

	"ratelimiter/internal/clock"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithDefaultConfig sets the bucket shape used when a check does not
// supply one.
func WithDefaultConfig(cfg Config) Option {
	return func(e *Engine) {
		e.defaults = cfg
	}
}

// WithShards sets the number of lock stripes in the bucket store. It is
// rounded up to a power of two.
func WithShards(n int) Option {
	return func(e *Engine) {
		e.shards = n
	}
}

// WithLogCapacity sets how many recent decisions are retained.
func WithLogCapacity(n int) Option {
	return func(e *Engine) {
		e.logCapacity = n
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
