package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"ratelimiter/internal/models"
	"ratelimiter/internal/service"
	"ratelimiter/internal/storage"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds request bodies; the largest valid body is a few
// hundred bytes.
const maxBodyBytes = 64 << 10

// Handlers contains HTTP handlers for the rate limiter API
type Handlers struct {
	service service.ServiceInterface
	storage storage.Storage
	version string
	started time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStorage lets the health check report on the snapshot store.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithVersion sets the version reported by the health check.
func WithVersion(v string) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc service.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service: svc,
		version: "unknown",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check handles admission checks
// POST /api/v1/check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.Check(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if !response.Allowed {
		w.Header().Set("Retry-After", retryAfterHeader(response.RetryAfterSeconds))
		h.writeJSONResponse(w, http.StatusTooManyRequests, response)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Burst runs several checks for one client and summarises them
// POST /api/v1/check/burst
func (h *Handlers) Burst(w http.ResponseWriter, r *http.Request) {
	var req models.BurstRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.Burst(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Status describes a client's bucket without spending tokens
// GET /api/v1/status/{client_key}
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]

	response, err := h.service.Status(r.Context(), clientKey)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Metrics returns aggregate counters, recent decisions and active buckets
// GET /api/v1/metrics
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.Metrics(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Logs returns recent decisions, newest first
// GET /api/v1/logs?limit=N
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	response, err := h.service.Logs(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Buckets lists every active bucket
// GET /api/v1/buckets
func (h *Handlers) Buckets(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.Buckets(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Reset clears one bucket or the aggregate counters
// POST /api/v1/reset
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.Reset(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	slog.Info("Rate limit state reset", "client_key", req.ClientKey, "reset_all", req.ResetAll)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version
	response.Uptime = time.Since(h.started).Truncate(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	response.AddComponent("engine", models.StatusHealthy, "Admission engine is operational")

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			// Buckets live in memory; a lost snapshot store only degrades
			// restart recovery.
			response.Status = models.StatusDegraded
			response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Snapshot storage is reachable")
		}
	}

	stats := h.service.Stats(r.Context())
	response.AddMetric("active_buckets", stats.ActiveBuckets)
	response.AddMetric("log_entries", stats.LogEntries)

	h.writeJSONResponse(w, http.StatusOK, response)
}

// decodeBody reads a JSON request body into dst. It writes a 400 response
// and returns false when the body is missing or malformed.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; all that is left is to log.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps a service error onto its HTTP status. Anything that
// is not a ServiceError is an internal error.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Service error", "code", svcErr.Code, "error", err)
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Error())
		return
	}

	slog.Error("Unexpected service error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// retryAfterHeader formats a wait in seconds as a whole-second Retry-After
// value, rounding up and never below one.
func retryAfterHeader(seconds *float64) string {
	secs := 1
	if seconds != nil {
		if s := int(math.Ceil(*seconds)); s > secs {
			secs = s
		}
	}
	return strconv.Itoa(secs)
}
