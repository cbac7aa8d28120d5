package models

import "time"

// BucketRecord is the persisted form of a bucket.
type BucketRecord struct {
	ClientKey  string    `json:"client_key" validate:"required"`
	Tokens     float64   `json:"tokens" validate:"min=0"`
	Capacity   float64   `json:"capacity" validate:"gt=0"`
	RefillRate float64   `json:"refill_rate" validate:"gt=0"`
	LastRefill time.Time `json:"last_refill"`
}

// Validate reports whether the record can be turned back into a bucket.
func (b *BucketRecord) Validate() error {
	return validateStruct(b)
}
