// Package service shapes admission engine results into API responses. It
// owns the external rounding rules and maps engine errors onto
// ServiceErrors that carry an HTTP status.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratelimiter/internal/limiter"
	"ratelimiter/internal/models"
)

// NoBucketMessage is returned in a status response for an unseen key.
const NoBucketMessage = "No bucket exists for this key yet. Will be created on first request."

// Stats is a cheap summary of engine size.
type Stats struct {
	ActiveBuckets int
	LogEntries    int
}

// Service handles rate limit checks and reporting
type Service struct {
	engine     Engine
	recentLogs int
	maxLogs    int
}

// NewService creates a service over engine. recentLogs bounds the decisions
// embedded in a metrics response; maxLogs bounds the logs endpoint.
func NewService(engine Engine, recentLogs, maxLogs int) *Service {
	return &Service{
		engine:     engine,
		recentLogs: recentLogs,
		maxLogs:    maxLogs,
	}
}

// Check spends tokens from the client's bucket
func (s *Service) Check(ctx context.Context, req *models.CheckRequest) (*models.CheckResponse, error) {
	if req.ClientKey == "" {
		return nil, NewValidationError("client_key is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid check request", err)
	}

	d, err := s.engine.Check(ctx, req.ClientKey, req.Tokens(), requestConfig(req))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return checkResponse(d), nil
}

// Burst issues req.Count checks in sequence and summarises them
func (s *Service) Burst(ctx context.Context, req *models.BurstRequest) (*models.BurstResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("invalid burst request", err)
	}

	resp := &models.BurstResponse{
		ClientKey: req.ClientKey,
		Results:   make([]models.CheckResponse, 0, req.Count),
	}
	cfg := requestConfig(&req.CheckRequest)
	for i := 0; i < req.Count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, NewInternalError("burst interrupted", err)
		}
		d, err := s.engine.Check(ctx, req.ClientKey, req.Tokens(), cfg)
		if err != nil {
			return nil, mapEngineError(err)
		}
		if d.Allowed {
			resp.Allowed++
		} else {
			resp.Blocked++
		}
		resp.Results = append(resp.Results, *checkResponse(d))
	}
	resp.Total = len(resp.Results)
	return resp, nil
}

// Status describes the client's bucket. An unseen key is not an error; the
// response carries the defaults a new bucket would get.
func (s *Service) Status(ctx context.Context, clientKey string) (*models.StatusResponse, error) {
	if clientKey == "" {
		return nil, NewValidationError("client_key is required", nil)
	}

	st, ok, err := s.engine.Status(ctx, clientKey)
	if err != nil {
		return nil, mapEngineError(err)
	}

	if !ok {
		def := s.engine.Defaults()
		return &models.StatusResponse{
			ClientKey:    clientKey,
			Tokens:       limiter.Round(def.Capacity, 2),
			Capacity:     limiter.Round(def.Capacity, 2),
			RefillRate:   limiter.Round(def.RefillRate, 2),
			LastRefillTS: unixSeconds(s.engine.Now()),
			Exists:       false,
			Message:      NoBucketMessage,
		}, nil
	}

	return &models.StatusResponse{
		ClientKey:    clientKey,
		Tokens:       limiter.Round(st.Tokens, 2),
		Capacity:     limiter.Round(st.Capacity, 2),
		RefillRate:   limiter.Round(st.RefillRate, 2),
		LastRefillTS: unixSeconds(st.LastRefill),
		Exists:       true,
	}, nil
}

// Metrics returns the counters, the most recent decisions and every bucket
func (s *Service) Metrics(ctx context.Context) (*models.MetricsResponse, error) {
	c := s.engine.Metrics(ctx)
	return &models.MetricsResponse{
		TotalRequests: c.TotalRequests,
		TotalAllowed:  c.TotalAllowed,
		TotalBlocked:  c.TotalBlocked,
		SuccessRate:   c.SuccessRate(),
		RecentLogs:    logResponses(s.engine.Logs(ctx, s.recentLogs)),
		ActiveBuckets: bucketResponses(s.engine.Buckets(ctx)),
	}, nil
}

// Logs returns up to limit decisions, newest first. A limit of zero means
// as many as are kept.
func (s *Service) Logs(ctx context.Context, limit int) (*models.LogsResponse, error) {
	if limit < 0 {
		return nil, NewValidationError(fmt.Sprintf("limit must not be negative, got %d", limit), nil)
	}
	if limit == 0 || limit > s.maxLogs {
		limit = s.maxLogs
	}

	logs := logResponses(s.engine.Logs(ctx, limit))
	return &models.LogsResponse{Logs: logs, Count: len(logs)}, nil
}

// Buckets lists every active bucket, refilled to now
func (s *Service) Buckets(ctx context.Context) (*models.BucketsResponse, error) {
	buckets := bucketResponses(s.engine.Buckets(ctx))
	return &models.BucketsResponse{Buckets: buckets, Count: len(buckets)}, nil
}

// Reset clears the aggregate counters when ResetAll is set, otherwise the
// named client's bucket
func (s *Service) Reset(ctx context.Context, req *models.ResetRequest) (*models.MessageResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, NewValidationError("Provide client_key or reset_all", err)
	}

	if req.ResetAll {
		s.engine.ResetAll(ctx)
		return &models.MessageResponse{Message: "All metrics reset successfully"}, nil
	}

	if err := s.engine.ResetBucket(ctx, req.ClientKey); err != nil {
		return nil, mapEngineError(err)
	}
	return &models.MessageResponse{Message: fmt.Sprintf("Bucket for %s reset successfully", req.ClientKey)}, nil
}

// Stats reports how many buckets and log entries the engine holds
func (s *Service) Stats(context.Context) Stats {
	return Stats{
		ActiveBuckets: s.engine.BucketCount(),
		LogEntries:    s.engine.LogSize(),
	}
}

func requestConfig(req *models.CheckRequest) limiter.Config {
	var cfg limiter.Config
	if req.Capacity != nil {
		cfg.Capacity = *req.Capacity
	}
	if req.RefillRate != nil {
		cfg.RefillRate = *req.RefillRate
	}
	return cfg
}

func checkResponse(d limiter.Decision) *models.CheckResponse {
	resp := &models.CheckResponse{
		Allowed:         d.Allowed,
		RemainingTokens: d.Remaining,
		Limit:           limiter.Round(d.Limit, 2),
	}
	if d.Allowed {
		reset := d.ResetIn
		resp.ResetInSeconds = &reset
	} else {
		retry := d.RetryAfter
		resp.RetryAfterSeconds = &retry
	}
	return resp
}

func logResponses(entries []limiter.LogEntry) []models.LogEntryResponse {
	out := make([]models.LogEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = models.LogEntryResponse{
			Timestamp:       e.Timestamp.UTC(),
			ClientKey:       e.ClientKey,
			Status:          string(e.Status),
			RemainingTokens: limiter.Round(e.RemainingTokens, 2),
			RequestedTokens: e.RequestedTokens,
		}
	}
	return out
}

func bucketResponses(states []limiter.State) []models.BucketResponse {
	out := make([]models.BucketResponse, len(states))
	for i, st := range states {
		out[i] = models.BucketResponse{
			ClientKey:  st.Key,
			Tokens:     limiter.Round(st.Tokens, 2),
			Capacity:   limiter.Round(st.Capacity, 2),
			RefillRate: limiter.Round(st.RefillRate, 2),
		}
	}
	return out
}

func mapEngineError(err error) error {
	if errors.Is(err, limiter.ErrInvalidArgument) {
		return NewValidationError("invalid argument", err)
	}
	return NewInternalError("rate limiter failure", err)
}

// unixSeconds renders t as fractional seconds since the epoch.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
