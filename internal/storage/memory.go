package storage

import (
	"context"
	"sync"

	"ratelimiter/internal/models"
)

// MemoryStorage keeps the last snapshot in process. It is the default backend
// and is also what the tests use in place of a real store.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []models.BucketRecord
	saves   int
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{}, nil
}

// LoadBuckets returns a copy of the last saved snapshot.
func (m *MemoryStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.BucketRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

// SaveBuckets replaces the snapshot with a copy of records.
func (m *MemoryStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make([]models.BucketRecord, len(records))
	copy(m.records, records)
	m.saves++
	return nil
}

// Saves reports how many snapshots have been written.
func (m *MemoryStorage) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
