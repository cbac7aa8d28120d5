// Package models - API request types and input validation.
//
// Requests are decoded from JSON and checked with struct tags before they
// reach the service layer. Optional numeric fields are pointers so that an
// omitted field can be told apart from an explicit zero.
package models

import (
	"errors"
	"math"
)

// MaxBurstCount caps how many checks a single burst request may issue.
const MaxBurstCount = 1000

// CheckRequest asks whether a client may spend tokens.
type CheckRequest struct {
	ClientKey       string   `json:"client_key" validate:"required"`
	RequestedTokens *float64 `json:"requested_tokens,omitempty" validate:"omitempty,gt=0"`
	Capacity        *float64 `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	RefillRate      *float64 `json:"refill_rate,omitempty" validate:"omitempty,gt=0"`
}

func (r *CheckRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	for _, v := range []*float64{r.RequestedTokens, r.Capacity, r.RefillRate} {
		if v != nil && (math.IsInf(*v, 0) || math.IsNaN(*v)) {
			return errors.New("numeric fields must be finite")
		}
	}
	return nil
}

// Tokens returns the requested token count, defaulting to one.
func (r *CheckRequest) Tokens() float64 {
	if r.RequestedTokens == nil {
		return 1
	}
	return *r.RequestedTokens
}

// BurstRequest issues Count consecutive checks for one client.
type BurstRequest struct {
	CheckRequest
	Count int `json:"count" validate:"min=1,max=1000"`
}

func (r *BurstRequest) Validate() error {
	if err := r.CheckRequest.Validate(); err != nil {
		return err
	}
	return validateStruct(r)
}

// ResetRequest clears either one bucket or the aggregate counters. When
// both are set, ResetAll wins.
type ResetRequest struct {
	ClientKey string `json:"client_key,omitempty"`
	ResetAll  bool   `json:"reset_all,omitempty"`
}

func (r *ResetRequest) Validate() error {
	if !r.ResetAll && r.ClientKey == "" {
		return errors.New("provide client_key or reset_all")
	}
	return nil
}
