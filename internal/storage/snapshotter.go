package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ratelimiter/internal/limiter"
)

// BucketSource is the part of the engine a Snapshotter reads and restores.
type BucketSource interface {
	Export() []limiter.State
	Restore(states []limiter.State) int
}

// Snapshotter copies engine buckets into a Storage on a fixed interval and
// once more when it is closed.
type Snapshotter struct {
	source   BucketSource
	store    Storage
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSnapshotter creates a snapshotter. An interval of zero disables the
// periodic save; the final save on Close still happens.
func NewSnapshotter(source BucketSource, store Storage, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		source:   source,
		store:    store,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Restore loads the stored snapshot into the engine and returns how many
// buckets were installed.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	records, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load buckets: %w", err)
	}
	n := s.source.Restore(StatesFromRecords(records))
	s.logger.Info("buckets restored", "loaded", len(records), "restored", n)
	return n, nil
}

// Save writes the current engine state to the store.
func (s *Snapshotter) Save(ctx context.Context) error {
	records := RecordsFromStates(s.source.Export())
	if err := s.store.SaveBuckets(ctx, records); err != nil {
		return fmt.Errorf("failed to save buckets: %w", err)
	}
	s.logger.Debug("bucket snapshot saved", "buckets", len(records))
	return nil
}

// Start launches the periodic save. It does nothing when the interval is zero.
func (s *Snapshotter) Start() {
	if s.interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.saveWithTimeout()
			}
		}
	}()
}

func (s *Snapshotter) saveWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.Save(ctx)
	if err != nil {
		s.logger.Error("snapshot failed", "error", err)
	}
	return err
}

// Close stops the periodic save, waits for it to exit and writes a final
// snapshot. Only the first call saves.
func (s *Snapshotter) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.saveWithTimeout()
	})
	return err
}
