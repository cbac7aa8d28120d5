package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"ratelimiter/internal/models"
)

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	key    KeyFunc
	logger *slog.Logger
}

// WithKeyFunc replaces ClientIP as the source of throttling keys.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.key = fn
	}
}

// WithLogger sets where denials are logged. Defaults to slog.Default().
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = l
	}
}

// Middleware throttles requests per key. Every response carries
// X-RateLimit-* headers; denied requests get a 429 JSON error and a
// Retry-After header of at least one second.
func Middleware(l Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{key: ClientIP}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.key(r)
			allowed, info := l.Allow(key)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(1, int(math.Ceil(info.RetryAfter.Seconds())))
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited))

			logger := cfg.logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("API rate limit exceeded", "key", key, "path", r.URL.Path, "retry_after", retryAfter)
		})
	}
}
