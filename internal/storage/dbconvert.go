package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"ratelimiter/internal/limiter"
	"ratelimiter/internal/models"
)

// RecordsFromStates converts engine bucket states into persisted records.
func RecordsFromStates(states []limiter.State) []models.BucketRecord {
	records := make([]models.BucketRecord, 0, len(states))
	for _, s := range states {
		records = append(records, models.BucketRecord{
			ClientKey:  s.Key,
			Tokens:     s.Tokens,
			Capacity:   s.Capacity,
			RefillRate: s.RefillRate,
			LastRefill: s.LastRefill.UTC(),
		})
	}
	return records
}

// StatesFromRecords converts persisted records back into engine states.
func StatesFromRecords(records []models.BucketRecord) []limiter.State {
	states := make([]limiter.State, 0, len(records))
	for _, r := range records {
		states = append(states, limiter.State{
			Key:        r.ClientKey,
			Tokens:     r.Tokens,
			Capacity:   r.Capacity,
			RefillRate: r.RefillRate,
			LastRefill: r.LastRefill,
		})
	}
	return states
}

func validateRecords(records []models.BucketRecord) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("invalid bucket record %q: %w", records[i].ClientKey, err)
		}
	}
	return nil
}

// marshalRecord converts a record to the JSON value stored by the redis backend.
func marshalRecord(r models.BucketRecord) ([]byte, error) {
	return json.Marshal(r)
}

// unmarshalRecord converts a stored JSON value back to a record.
func unmarshalRecord(data []byte) (models.BucketRecord, error) {
	var r models.BucketRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("failed to unmarshal bucket record: %w", err)
	}
	return r, nil
}

// formatTimestamp converts a time to the text form stored by SQLite.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp converts stored text back to a time.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
