// Package limiter implements a token-bucket admission engine with lazily
// refilled per-key buckets, aggregate counters and a bounded decision log.
package limiter

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"ratelimiter/internal/clock"
)

// DefaultConfig allows 100 requests per minute with bursts of up to 100.
var DefaultConfig = Config{
	Capacity:   100,
	RefillRate: 100.0 / 60.0,
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed bool

	// Tokens is the exact token count after the decision; Remaining is the
	// same value floored.
	Tokens    float64
	Remaining int64
	Limit     float64

	// ResetIn is the time until the bucket is full again, set on allow.
	// RetryAfter is the minimum wait until this request could succeed, set
	// on deny. Both are in seconds rounded to one decimal.
	ResetIn    float64
	RetryAfter float64
}

// Engine is a self-contained rate limiter. The zero value is not usable;
// construct one with New.
type Engine struct {
	clock       clock.Clock
	defaults    Config
	shards      int
	logCapacity int
	logger      *slog.Logger

	store   *store
	metrics *Aggregator
}

// New creates an engine. It fails only when the default bucket config is
// invalid.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		clock:       clock.System{},
		defaults:    DefaultConfig,
		shards:      DefaultShards,
		logCapacity: DefaultLogCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.store = newStore(e.shards)
	e.metrics = NewAggregator(e.logCapacity)
	return e, nil
}

// Defaults returns the bucket config applied when a check omits one.
func (e *Engine) Defaults() Config {
	return e.defaults
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Check spends requested tokens from key's bucket if it holds enough.
// Zero fields in cfg fall back to the engine defaults; cfg only shapes a
// bucket that does not exist yet. A denied check consumes nothing.
func (e *Engine) Check(key string, requested float64, cfg Config) (Decision, error) {
	if key == "" {
		return Decision{}, fmt.Errorf("%w: client key is required", ErrInvalidArgument)
	}
	if !positiveFinite(requested) {
		return Decision{}, fmt.Errorf("%w: requested tokens must be a positive number, got %v", ErrInvalidArgument, requested)
	}
	cfg = e.resolve(cfg)
	if err := cfg.Validate(); err != nil {
		return Decision{}, err
	}

	var (
		d     Decision
		entry LogEntry
	)
	for {
		now := e.clock.Now()
		b := e.store.getOrCreate(key, cfg, now)

		b.mu.Lock()
		if b.removed {
			// Reset or evicted between lookup and lock; use the replacement.
			b.mu.Unlock()
			continue
		}
		b.refill(now)
		b.touch(now)
		d, entry = decide(b, key, requested, now)
		b.mu.Unlock()
		break
	}

	e.metrics.Record(entry)
	return d, nil
}

// decide applies the admission rule to a refilled bucket. The caller must
// hold b.mu.
func decide(b *bucket, key string, requested float64, now time.Time) (Decision, LogEntry) {
	d := Decision{Limit: b.capacity}
	entry := LogEntry{
		Timestamp:       now,
		ClientKey:       key,
		RequestedTokens: requested,
	}

	if b.tokens >= requested {
		b.tokens -= requested
		d.Allowed = true
		d.ResetIn = Round((b.capacity-b.tokens)/b.refillRate, 1)
		entry.Status = OutcomeAllowed
	} else {
		d.RetryAfter = Round((requested-b.tokens)/b.refillRate, 1)
		entry.Status = OutcomeBlocked
	}

	d.Tokens = b.tokens
	d.Remaining = int64(math.Floor(b.tokens))
	entry.RemainingTokens = b.tokens
	return d, entry
}

func (e *Engine) resolve(cfg Config) Config {
	if cfg.Capacity == 0 {
		cfg.Capacity = e.defaults.Capacity
	}
	if cfg.RefillRate == 0 {
		cfg.RefillRate = e.defaults.RefillRate
	}
	return cfg
}

// Status returns key's bucket refilled to now. The boolean is false when no
// bucket exists; nothing is created in that case.
func (e *Engine) Status(key string) (State, bool, error) {
	if key == "" {
		return State{}, false, fmt.Errorf("%w: client key is required", ErrInvalidArgument)
	}

	b, ok := e.store.get(key)
	if !ok {
		return State{}, false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed {
		return State{}, false, nil
	}
	b.refill(e.clock.Now())
	return b.state(key), true, nil
}

// Buckets returns every bucket refilled to now, sorted by key.
func (e *Engine) Buckets() []State {
	return e.store.snapshot(e.clock.Now())
}

// BucketCount returns the number of live buckets.
func (e *Engine) BucketCount() int {
	return e.store.len()
}

// Metrics returns the aggregate counters.
func (e *Engine) Metrics() Counters {
	return e.metrics.Snapshot()
}

// Logs returns up to limit recent decisions, newest first.
func (e *Engine) Logs(limit int) []LogEntry {
	return e.metrics.Logs(limit)
}

// LogSize returns how many decisions the log currently holds.
func (e *Engine) LogSize() int {
	return e.metrics.Len()
}

// ResetBucket forgets key's bucket; the next check starts from a full one.
// Counters and the log are untouched. Resetting an unknown key is not an
// error.
func (e *Engine) ResetBucket(key string) error {
	if key == "" {
		return fmt.Errorf("%w: client key is required", ErrInvalidArgument)
	}
	if e.store.delete(key) {
		e.logger.Debug("bucket reset", "client_key", key)
	}
	return nil
}

// ResetAll zeroes the aggregate counters. Buckets are left as they are.
func (e *Engine) ResetAll() {
	e.metrics.Reset()
	e.logger.Debug("metrics reset")
}

// EvictIdle drops buckets that are full and have not been checked within
// ttl. Status, Buckets and Export do not count as use. It returns the number
// removed.
func (e *Engine) EvictIdle(ttl time.Duration) int {
	now := e.clock.Now()
	return e.store.evictIdle(now, now.Add(-ttl))
}

// Export returns every bucket for persistence. It is the same view as
// Buckets.
func (e *Engine) Export() []State {
	return e.Buckets()
}

// Restore installs previously exported buckets, replacing any live bucket
// with the same key. Records with an empty key or a bad shape are skipped.
// Token counts are clamped into [0, capacity] and a last-refill time in the
// future is pulled back to now. Counters and the log are not affected.
func (e *Engine) Restore(states []State) int {
	now := e.clock.Now()
	restored := 0
	for _, st := range states {
		cfg := Config{Capacity: st.Capacity, RefillRate: st.RefillRate}
		if st.Key == "" || cfg.Validate() != nil || math.IsNaN(st.Tokens) {
			e.logger.Warn("skipping invalid bucket record", "client_key", st.Key)
			continue
		}

		b := newBucket(cfg, now)
		b.tokens = math.Max(0, math.Min(st.Tokens, st.Capacity))
		if !st.LastRefill.IsZero() && st.LastRefill.Before(now) {
			b.lastRefill = st.LastRefill
			b.lastUsed = st.LastRefill
		}
		e.store.put(st.Key, b)
		restored++
	}
	return restored
}
