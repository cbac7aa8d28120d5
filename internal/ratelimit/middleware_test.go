package ratelimit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ratelimiter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// recordingLimiter remembers the keys it was asked about.
type recordingLimiter struct {
	keys    []string
	allowed bool
}

func (r *recordingLimiter) Allow(key string) (bool, Info) {
	r.keys = append(r.keys, key)
	return r.allowed, Info{Limit: 5, Remaining: 4, ResetAt: time.Unix(1700000000, 0), RetryAfter: 1500 * time.Millisecond}
}

func (r *recordingLimiter) Close() {}

func TestMiddleware_AllowedRequest(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 10)
	handler := Middleware(l)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(start.Add(time.Second).Unix(), 10), rr.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rr.Header().Get("Retry-After"))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 2)
	handler := Middleware(l)(http.HandlerFunc(okHandler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, send().Code)
	}

	rr := send()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, models.ErrorCodeRateLimited, body.Code)
	assert.Equal(t, "Rate limit exceeded", body.Message)
}

func TestMiddleware_RetryAfterRoundsUp(t *testing.T) {
	rl := &recordingLimiter{allowed: false}
	handler := Middleware(rl)(http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Equal(t, "1700000000", rr.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_KeyFunc(t *testing.T) {
	rl := &recordingLimiter{allowed: true}
	byToken := func(r *http.Request) string { return r.Header.Get("X-Api-Token") }
	handler := Middleware(rl, WithKeyFunc(byToken))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Api-Token", "tenant-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rl.keys, 1)
	assert.Equal(t, "tenant-42", rl.keys[0])
}

func TestMiddleware_LogsDenials(t *testing.T) {
	var buf bytes.Buffer
	rl := &recordingLimiter{allowed: false}
	handler := Middleware(rl, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.RemoteAddr = "10.1.2.3:999"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "API rate limit exceeded")
	assert.Contains(t, buf.String(), "key=10.1.2.3")
	assert.Contains(t, buf.String(), "path=/api/v1/metrics")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{name: "remote addr with port", remoteAddr: "10.0.0.1:5555", expected: "10.0.0.1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.1", expected: "10.0.0.1"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:8080", expected: "::1"},
		{
			name:       "x-forwarded-for first hop",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			expected:   "203.0.113.5",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			expected:   "198.51.100.7",
		},
		{
			name:       "x-forwarded-for wins over x-real-ip",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "198.51.100.7"},
			expected:   "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}
