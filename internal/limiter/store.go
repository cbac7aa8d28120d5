package limiter

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of lock stripes used when none is configured.
const DefaultShards = 32

type shard struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// store owns every bucket. Keys are spread over a fixed set of shards so that
// checks for different keys rarely contend on the same map lock. Lock order
// is shard before bucket; no path takes a shard lock while holding a bucket.
type store struct {
	shards []shard
	mask   uint64
}

func newStore(n int) *store {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}

	s := &store{
		shards: make([]shard, size),
		mask:   uint64(size - 1),
	}
	for i := range s.shards {
		s.shards[i].buckets = make(map[string]*bucket)
	}
	return s
}

func (s *store) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.mask]
}

// getOrCreate returns the bucket for key, creating a full one from cfg when
// the key is unseen. Concurrent callers for the same key always get the same
// bucket.
func (s *store) getOrCreate(key string, cfg Config, now time.Time) *bucket {
	sh := s.shardFor(key)

	sh.mu.RLock()
	b, ok := sh.buckets[key]
	sh.mu.RUnlock()
	if ok {
		return b
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok = sh.buckets[key]; ok {
		return b
	}
	b = newBucket(cfg, now)
	sh.buckets[key] = b
	return b
}

// get looks key up without creating anything.
func (s *store) get(key string) (*bucket, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	b, ok := sh.buckets[key]
	return b, ok
}

// delete drops key. It reports whether a bucket was present.
func (s *store) delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		return false
	}
	delete(sh.buckets, key)

	b.mu.Lock()
	b.removed = true
	b.mu.Unlock()
	return true
}

// put installs b under key, replacing whatever was there.
func (s *store) put(key string, b *bucket) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.buckets[key]; ok {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	}
	sh.buckets[key] = b
}

// snapshot returns every bucket refilled to now, sorted by key. Each bucket
// is refilled under its own lock; there is no store-wide freeze.
func (s *store) snapshot(now time.Time) []State {
	var pairs []struct {
		key string
		b   *bucket
	}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, b := range sh.buckets {
			pairs = append(pairs, struct {
				key string
				b   *bucket
			}{k, b})
		}
		sh.mu.RUnlock()
	}

	states := make([]State, 0, len(pairs))
	for _, p := range pairs {
		p.b.mu.Lock()
		if !p.b.removed {
			p.b.refill(now)
			states = append(states, p.b.state(p.key))
		}
		p.b.mu.Unlock()
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states
}

func (s *store) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return n
}

// evictIdle removes buckets that have not been checked since cutoff and would
// be full if refilled to now. Such a bucket is indistinguishable from the
// fresh one the next check would create, so dropping it changes no decision.
// Survivors are left as they were.
func (s *store) evictIdle(now, cutoff time.Time) int {
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, b := range sh.buckets {
			b.mu.Lock()
			if b.lastUsed.Before(cutoff) && b.fullAt(now) {
				b.removed = true
				delete(sh.buckets, k)
				evicted++
			}
			b.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return evicted
}
