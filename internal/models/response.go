// Package models - API response types and error handling.
//
// All responses are JSON with snake_case keys. Token and rate quantities
// are rounded to two decimals and time estimates to one before they are
// placed in a response.
package models

import (
	"time"
)

// CheckResponse reports an admission decision. Exactly one of
// ResetInSeconds (allowed) and RetryAfterSeconds (denied) is set.
type CheckResponse struct {
	Allowed           bool     `json:"allowed"`
	RemainingTokens   int64    `json:"remaining_tokens"`
	Limit             float64  `json:"limit"`
	ResetInSeconds    *float64 `json:"reset_in_seconds,omitempty"`
	RetryAfterSeconds *float64 `json:"retry_after_seconds,omitempty"`
}

// BurstResponse summarises a run of consecutive checks.
type BurstResponse struct {
	ClientKey string          `json:"client_key"`
	Total     int             `json:"total"`
	Allowed   int             `json:"allowed"`
	Blocked   int             `json:"blocked"`
	Results   []CheckResponse `json:"results"`
}

// StatusResponse describes one bucket. For a key that has never been seen
// Exists is false, the numbers are the defaults a new bucket would get and
// Message explains why.
type StatusResponse struct {
	ClientKey    string  `json:"client_key"`
	Tokens       float64 `json:"tokens"`
	Capacity     float64 `json:"capacity"`
	RefillRate   float64 `json:"refill_rate"`
	LastRefillTS float64 `json:"last_refill_ts"` // unix seconds, fractional
	Exists       bool    `json:"exists"`
	Message      string  `json:"message,omitempty"`
}

// BucketResponse is one entry of the active bucket list.
type BucketResponse struct {
	ClientKey  string  `json:"client_key"`
	Tokens     float64 `json:"tokens"`
	Capacity   float64 `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
}

// LogEntryResponse is one recorded decision.
type LogEntryResponse struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientKey       string    `json:"client_key"`
	Status          string    `json:"status"`
	RemainingTokens float64   `json:"remaining_tokens"`
	RequestedTokens float64   `json:"requested_tokens"`
}

type MetricsResponse struct {
	TotalRequests int64              `json:"total_requests"`
	TotalAllowed  int64              `json:"total_allowed"`
	TotalBlocked  int64              `json:"total_blocked"`
	SuccessRate   int                `json:"success_rate"`
	RecentLogs    []LogEntryResponse `json:"recent_logs"`
	ActiveBuckets []BucketResponse   `json:"active_buckets"`
}

type LogsResponse struct {
	Logs  []LogEntryResponse `json:"logs"`
	Count int                `json:"count"`
}

type BucketsResponse struct {
	Buckets []BucketResponse `json:"buckets"`
	Count   int              `json:"count"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse provides structured error information. Error is always
// "error"; Code is machine-readable and Message is meant for people.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health status constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusUnknown   = "unknown"
)

// Error codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: malformed body
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: well-formed but invalid
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 400: field constraint failed
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WithDetails attaches field-level details and returns r.
func (r *ErrorResponse) WithDetails(details map[string]string) *ErrorResponse {
	r.Details = details
	return r
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}

// IsHealthy reports whether the overall status is healthy.
func (h *HealthCheckResponse) IsHealthy() bool {
	return h.Status == StatusHealthy
}
