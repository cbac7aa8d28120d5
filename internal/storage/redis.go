package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"ratelimiter/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the snapshot in a single Redis hash: one field per
// client key, each value a JSON-encoded BucketRecord.
type RedisStorage struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStorage creates a new Redis storage instance and checks the connection.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}
	key := config.Redis.Key
	if key == "" {
		key = "ratelimiter:buckets"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStorage{client: client, key: key, logger: slog.Default()}, nil
}

// LoadBuckets reads every field of the hash, ordered by client key. Fields
// that do not decode are logged and skipped.
func (rs *RedisStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	values, err := rs.client.HGetAll(ctx, rs.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buckets: %w", err)
	}
	return decodeRecords(values, rs.logger), nil
}

func decodeRecords(values map[string]string, logger *slog.Logger) []models.BucketRecord {
	records := make([]models.BucketRecord, 0, len(values))
	for field, value := range values {
		r, err := unmarshalRecord([]byte(value))
		if err != nil {
			logger.Warn("skipping undecodable bucket", "client_key", field, "error", err)
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(a, b int) bool { return records[a].ClientKey < records[b].ClientKey })
	return records
}

// SaveBuckets replaces the hash atomically in a MULTI/EXEC pipeline.
func (rs *RedisStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	fields := make([]any, 0, len(records)*2)
	for _, r := range records {
		data, err := marshalRecord(r)
		if err != nil {
			return fmt.Errorf("failed to marshal bucket %q: %w", r.ClientKey, err)
		}
		fields = append(fields, r.ClientKey, data)
	}

	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rs.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, rs.key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write buckets: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
