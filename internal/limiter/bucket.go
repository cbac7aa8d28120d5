package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Config sets the shape of a bucket. It only matters when a bucket is
// created; an existing bucket keeps the capacity and rate it was born with.
type Config struct {
	Capacity   float64 // maximum tokens held
	RefillRate float64 // tokens added per second
}

// Validate checks that both fields are positive and finite.
func (c Config) Validate() error {
	if !positiveFinite(c.Capacity) {
		return fmt.Errorf("%w: capacity must be a positive number, got %v", ErrInvalidArgument, c.Capacity)
	}
	if !positiveFinite(c.RefillRate) {
		return fmt.Errorf("%w: refill rate must be a positive number, got %v", ErrInvalidArgument, c.RefillRate)
	}
	return nil
}

// State is a point-in-time copy of one bucket.
type State struct {
	Key        string
	Tokens     float64
	Capacity   float64
	RefillRate float64
	LastRefill time.Time
}

// bucket is the mutable per-key record. All fields are guarded by mu.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time

	// lastUsed is the time of the last check against the bucket. Reads
	// refill the bucket but never move it, so it alone decides idleness.
	lastUsed time.Time

	// removed is set once the bucket has been dropped from the store so a
	// caller still holding the pointer knows to look it up again.
	removed bool
}

func newBucket(cfg Config, now time.Time) *bucket {
	return &bucket{
		tokens:     cfg.Capacity,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// refill brings tokens up to date with now. A clock that moved backward
// counts as zero elapsed time and leaves lastRefill where it was. The caller
// must hold b.mu.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if !(elapsed > 0) {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// fullAt reports whether the bucket would be full once refilled to now,
// leaving the bucket untouched. The caller must hold b.mu.
func (b *bucket) fullAt(now time.Time) bool {
	elapsed := math.Max(0, now.Sub(b.lastRefill).Seconds())
	return b.tokens+elapsed*b.refillRate >= b.capacity
}

// touch records a check at now. A clock that moved backward leaves lastUsed
// where it was. The caller must hold b.mu.
func (b *bucket) touch(now time.Time) {
	if now.After(b.lastUsed) {
		b.lastUsed = now
	}
}

func (b *bucket) state(key string) State {
	return State{
		Key:        key,
		Tokens:     b.tokens,
		Capacity:   b.capacity,
		RefillRate: b.refillRate,
		LastRefill: b.lastRefill,
	}
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Round rounds v to the given number of decimal places, halves away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
