package storage

import (
	"context"
	"time"

	"ratelimiter/internal/models"
)

// Storage defines the interface for bucket snapshot persistence.
// Buckets live in process memory; a Storage only receives periodic
// snapshots and hands the last one back on startup.
type Storage interface {
	// LoadBuckets returns the most recently saved snapshot.
	LoadBuckets(ctx context.Context) ([]models.BucketRecord, error)

	// SaveBuckets replaces the stored snapshot with records.
	SaveBuckets(ctx context.Context, records []models.BucketRecord) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, sqlite, ...)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	Redis models.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}
