package limiter

import (
	"sync"
	"time"
)

// DefaultLogCapacity is how many decisions the log keeps.
const DefaultLogCapacity = 100

// Outcome is the logged result of a check.
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeBlocked Outcome = "BLOCKED"
)

// LogEntry records one admission decision. Entries are never modified after
// they are appended.
type LogEntry struct {
	Timestamp       time.Time
	ClientKey       string
	Status          Outcome
	RemainingTokens float64
	RequestedTokens float64
}

// Counters is a copy of the aggregate request counters.
type Counters struct {
	TotalRequests int64
	TotalAllowed  int64
	TotalBlocked  int64
}

// SuccessRate returns the allowed share of all requests as a whole
// percentage, or 100 when nothing has been counted yet.
func (c Counters) SuccessRate() int {
	if c.TotalRequests == 0 {
		return 100
	}
	return int(Round(float64(c.TotalAllowed)/float64(c.TotalRequests)*100, 0))
}

// Aggregator owns the request counters and a fixed-size ring of recent
// decisions. One mutex guards both, and it is never held while a bucket
// lock is taken.
type Aggregator struct {
	mu       sync.Mutex
	counters Counters
	ring     []LogEntry
	next     int // slot the next entry goes into
	size     int // entries currently held
}

// NewAggregator creates an aggregator keeping at most capacity log entries.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Aggregator{ring: make([]LogEntry, capacity)}
}

// Record counts one decision and appends it to the log, overwriting the
// oldest entry once the ring is full.
func (a *Aggregator) Record(entry LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters.TotalRequests++
	if entry.Status == OutcomeAllowed {
		a.counters.TotalAllowed++
	} else {
		a.counters.TotalBlocked++
	}

	a.ring[a.next] = entry
	a.next = (a.next + 1) % len(a.ring)
	if a.size < len(a.ring) {
		a.size++
	}
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

// Reset zeroes all three counters together. The decision log is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.counters = Counters{}
	a.mu.Unlock()
}

// Logs returns up to limit entries, newest first. A limit of zero or less
// returns the whole log.
func (a *Aggregator) Logs(limit int) []LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]LogEntry, n)
	for i := 0; i < n; i++ {
		idx := (a.next - 1 - i + len(a.ring)) % len(a.ring)
		out[i] = a.ring[idx]
	}
	return out
}

// Len returns how many entries the log currently holds.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}
