package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ratelimiter/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file.
// Every save writes a temp file next to the target and renames it over, so a
// crash mid-write leaves the previous snapshot intact.
type JSONStorage struct {
	filePath string
	mu       sync.Mutex
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Buckets     []models.BucketRecord `json:"buckets"`
	LastUpdated time.Time             `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{filePath: config.Path}

	if err := os.MkdirAll(filepath.Dir(storage.filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return storage, nil
}

// LoadBuckets reads the snapshot file. A missing file is an empty snapshot.
func (j *JSONStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	fileData, err := os.ReadFile(j.filePath)
	if os.IsNotExist(err) {
		return []models.BucketRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Buckets == nil {
		data.Buckets = []models.BucketRecord{}
	}
	return data.Buckets, nil
}

// SaveBuckets writes records to the snapshot file, sorted by client key.
func (j *JSONStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	sorted := make([]models.BucketRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ClientKey < sorted[b].ClientKey })

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.saveData(&JSONData{Buckets: sorted})
}

// saveData saves data to the JSON file
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, j.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// Ping checks that the snapshot directory is still there.
func (j *JSONStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(j.filePath)); err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	return nil
}

// Close is a no-op for JSON storage
func (j *JSONStorage) Close() error {
	return nil
}
