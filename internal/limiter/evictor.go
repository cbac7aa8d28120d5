package limiter

import (
	"sync"
	"time"
)

// Evictor periodically drops idle buckets from an engine. Buckets are only
// removed when they are full, so eviction never changes a decision.
type Evictor struct {
	engine   *Engine
	ttl      time.Duration
	interval time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewEvictor creates an evictor removing buckets idle for longer than ttl,
// scanning every interval. Call Start to run it.
func NewEvictor(engine *Engine, ttl, interval time.Duration) *Evictor {
	return &Evictor{
		engine:   engine,
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start launches the background scan.
func (v *Evictor) Start() {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		for {
			select {
			case <-v.stop:
				return
			case <-ticker.C:
				v.RunOnce()
			}
		}
	}()
}

// RunOnce performs a single eviction pass.
func (v *Evictor) RunOnce() int {
	n := v.engine.EvictIdle(v.ttl)
	if n > 0 {
		v.engine.logger.Debug("idle buckets evicted",
			"evicted", n,
			"remaining", v.engine.BucketCount())
	}
	return n
}

// Close stops the scan and waits for it to exit. Safe to call more than once.
func (v *Evictor) Close() {
	v.once.Do(func() {
		close(v.stop)
	})
	v.wg.Wait()
}
