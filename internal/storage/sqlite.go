package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ratelimiter/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	client_key  TEXT PRIMARY KEY,
	tokens      REAL NOT NULL,
	capacity    REAL NOT NULL,
	refill_rate REAL NOT NULL,
	last_refill TEXT NOT NULL
)`

// SQLiteStorage stores snapshots in a SQLite database file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; more connections only add lock contention.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// LoadBuckets returns every stored bucket ordered by client key.
func (ss *SQLiteStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT client_key, tokens, capacity, refill_rate, last_refill FROM buckets ORDER BY client_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	records := []models.BucketRecord{}
	for rows.Next() {
		var r models.BucketRecord
		var lastRefill string
		if err := rows.Scan(&r.ClientKey, &r.Tokens, &r.Capacity, &r.RefillRate, &lastRefill); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		if r.LastRefill, err = parseTimestamp(lastRefill); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate buckets: %w", err)
	}
	return records, nil
}

// SaveBuckets replaces the table contents in one transaction.
func (ss *SQLiteStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets`); err != nil {
		return fmt.Errorf("failed to clear buckets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO buckets (client_key, tokens, capacity, refill_rate, last_refill) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ClientKey, r.Tokens, r.Capacity, r.RefillRate, formatTimestamp(r.LastRefill)); err != nil {
			return fmt.Errorf("failed to insert bucket %q: %w", r.ClientKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
