package storage

import (
	"fmt"

	"ratelimiter/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - memory: keeps the snapshot in process (nothing survives a restart)
//   - json: single JSON file, replaced atomically on every save
//   - sqlite: SQLite database file
//   - postgres: PostgreSQL via a pgx connection pool
//   - redis: one Redis hash, field per client key
func (f *Factory) Create(config models.PersistenceConfig) (Storage, error) {
	storageConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		Redis:            config.Redis,
	}

	switch config.Type {
	case models.StorageTypeMemory:
		return NewMemoryStorage(storageConfig)
	case models.StorageTypeJSON:
		return NewJSONStorage(storageConfig)
	case models.StorageTypeSQLite:
		return NewSQLiteStorage(storageConfig)
	case models.StorageTypePostgres:
		return NewPostgresStorage(storageConfig)
	case models.StorageTypeRedis:
		return NewRedisStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StorageTypeMemory,
		models.StorageTypeJSON,
		models.StorageTypeSQLite,
		models.StorageTypePostgres,
		models.StorageTypeRedis,
	}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.PersistenceConfig) error {
	switch config.Type {
	case models.StorageTypeMemory:
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}
