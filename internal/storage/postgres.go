package storage

import (
	"context"
	"fmt"

	"ratelimiter/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	client_key  TEXT PRIMARY KEY,
	tokens      DOUBLE PRECISION NOT NULL,
	capacity    DOUBLE PRECISION NOT NULL,
	refill_rate DOUBLE PRECISION NOT NULL,
	last_refill TIMESTAMPTZ NOT NULL
)`

var bucketColumns = []string{"client_key", "tokens", "capacity", "refill_rate", "last_refill"}

// PostgresStorage implements the Storage interface using PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// LoadBuckets returns every stored bucket ordered by client key.
func (ps *PostgresStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT client_key, tokens, capacity, refill_rate, last_refill FROM buckets ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.BucketRecord, error) {
		var r models.BucketRecord
		err := row.Scan(&r.ClientKey, &r.Tokens, &r.Capacity, &r.RefillRate, &r.LastRefill)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan buckets: %w", err)
	}
	if records == nil {
		records = []models.BucketRecord{}
	}
	return records, nil
}

// SaveBuckets replaces the table contents in one transaction using COPY.
func (ps *PostgresStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM buckets`); err != nil {
		return fmt.Errorf("failed to clear buckets: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"buckets"}, bucketColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.ClientKey, r.Tokens, r.Capacity, r.RefillRate, r.LastRefill.UTC()}, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy buckets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
