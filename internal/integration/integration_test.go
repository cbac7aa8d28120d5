package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ratelimiter/internal/api"
	"ratelimiter/internal/clock"
	"ratelimiter/internal/config"
	"ratelimiter/internal/limiter"
	"ratelimiter/internal/models"
	"ratelimiter/internal/service"
	"ratelimiter/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that exercise the entire stack over HTTP

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testStack struct {
	server *httptest.Server
	engine *limiter.Engine
	clock  *clock.Manual
}

func newStack(t *testing.T, store storage.Storage) *testStack {
	t.Helper()

	clk := clock.NewManual(epoch)
	engine, err := limiter.New(limiter.WithClock(clk))
	require.NoError(t, err)

	svc := service.NewService(service.WrapEngine(engine), 20, 100)

	opts := []api.HandlerOption{}
	if store != nil {
		opts = append(opts, api.WithStorage(store))
	}
	router := api.SetupRoutes(api.NewHandlers(svc, opts...), models.NewDefaultConfig())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testStack{server: server, engine: engine, clock: clk}
}

func (s *testStack) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testStack) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func float(v float64) *float64 { return &v }

func TestIntegration_FullCheckFlow(t *testing.T) {
	stack := newStack(t, nil)

	// A bucket of three tokens refilling one per second
	req := models.CheckRequest{ClientKey: "alice", Capacity: float(3), RefillRate: float(1)}

	for i := 0; i < 3; i++ {
		resp := stack.post(t, "/api/v1/check", req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		check := decode[models.CheckResponse](t, resp)
		assert.True(t, check.Allowed)
		assert.Equal(t, int64(2-i), check.RemainingTokens)
	}

	resp := stack.post(t, "/api/v1/check", req)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	denied := decode[models.CheckResponse](t, resp)
	assert.False(t, denied.Allowed)
	require.NotNil(t, denied.RetryAfterSeconds)
	assert.Equal(t, 1.0, *denied.RetryAfterSeconds)

	// Status does not spend tokens
	resp = stack.get(t, "/api/v1/status/alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[models.StatusResponse](t, resp)
	assert.True(t, status.Exists)
	assert.Equal(t, 0.0, status.Tokens)
	assert.Equal(t, 3.0, status.Capacity)

	// Two seconds later two tokens are back
	stack.clock.Advance(2 * time.Second)
	resp = stack.post(t, "/api/v1/check", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), decode[models.CheckResponse](t, resp).RemainingTokens)

	resp = stack.get(t, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics := decode[models.MetricsResponse](t, resp)
	assert.Equal(t, int64(5), metrics.TotalRequests)
	assert.Equal(t, int64(4), metrics.TotalAllowed)
	assert.Equal(t, int64(1), metrics.TotalBlocked)
	assert.Equal(t, 80, metrics.SuccessRate)
	assert.Len(t, metrics.ActiveBuckets, 1)

	resp = stack.get(t, "/api/v1/logs?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[models.LogsResponse](t, resp)
	require.Len(t, logs.Logs, 2)
	assert.Equal(t, "allowed", logs.Logs[0].Status)
	assert.Equal(t, "blocked", logs.Logs[1].Status)

	// Resetting the bucket refills it and forgets the custom shape
	resp = stack.post(t, "/api/v1/reset", models.ResetRequest{ClientKey: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = stack.get(t, "/api/v1/status/alice")
	status = decode[models.StatusResponse](t, resp)
	assert.False(t, status.Exists)
	assert.Equal(t, status.Capacity, status.Tokens)
	assert.NotEmpty(t, status.Message)

	resp = stack.post(t, "/api/v1/reset", models.ResetRequest{ResetAll: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metrics = decode[models.MetricsResponse](t, stack.get(t, "/api/v1/metrics"))
	assert.Zero(t, metrics.TotalRequests)
	assert.Equal(t, 100, metrics.SuccessRate)
}

func TestIntegration_Burst(t *testing.T) {
	stack := newStack(t, nil)

	resp := stack.post(t, "/api/v1/check/burst", models.BurstRequest{
		CheckRequest: models.CheckRequest{ClientKey: "bob", Capacity: float(5), RefillRate: float(1)},
		Count:        8,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	burst := decode[models.BurstResponse](t, resp)
	assert.Equal(t, "bob", burst.ClientKey)
	assert.Equal(t, 8, burst.Total)
	assert.Equal(t, 5, burst.Allowed)
	assert.Equal(t, 3, burst.Blocked)
	assert.Len(t, burst.Results, 8)

	buckets := decode[models.BucketsResponse](t, stack.get(t, "/api/v1/buckets"))
	require.Equal(t, 1, buckets.Count)
	assert.Equal(t, "bob", buckets.Buckets[0].ClientKey)
}

func TestIntegration_ErrorHandling(t *testing.T) {
	stack := newStack(t, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "malformed JSON",
			method:         http.MethodPost,
			path:           "/api/v1/check",
			body:           `{"client_key":`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeBadRequest,
		},
		{
			name:           "missing client key",
			method:         http.MethodPost,
			path:           "/api/v1/check",
			body:           `{"requested_tokens": 1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeValidation,
		},
		{
			name:           "negative capacity",
			method:         http.MethodPost,
			path:           "/api/v1/check",
			body:           `{"client_key": "a", "capacity": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeValidation,
		},
		{
			name:           "burst count too large",
			method:         http.MethodPost,
			path:           "/api/v1/check/burst",
			body:           `{"client_key": "a", "count": 1001}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeValidation,
		},
		{
			name:           "empty reset",
			method:         http.MethodPost,
			path:           "/api/v1/reset",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown route",
			method:         http.MethodGet,
			path:           "/api/v1/unknown",
			expectedStatus: http.StatusNotFound,
			expectedCode:   models.ErrorCodeNotFound,
		},
		{
			name:           "wrong method",
			method:         http.MethodGet,
			path:           "/api/v1/check",
			expectedStatus: http.StatusMethodNotAllowed,
			expectedCode:   models.ErrorCodeMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, stack.server.URL+tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var errResp models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.Equal(t, "error", errResp.Error)
			assert.NotEmpty(t, errResp.Message)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errResp.Code)
			}
		})
	}
}

func TestIntegration_ConcurrentRequests(t *testing.T) {
	stack := newStack(t, nil)

	// The clock is frozen, so exactly capacity requests may pass
	const (
		numRequests = 100
		capacity    = 50
	)
	body, err := json.Marshal(models.CheckRequest{ClientKey: "shared", Capacity: float(capacity), RefillRate: float(1)})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		blocked int
	)
	errs := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			resp, err := http.Post(stack.server.URL+"/api/v1/check", "application/json", bytes.NewReader(body))
			if err != nil {
				errs <- fmt.Errorf("request %d failed: %v", id, err)
				return
			}
			defer resp.Body.Close()

			mu.Lock()
			defer mu.Unlock()
			switch resp.StatusCode {
			case http.StatusOK:
				allowed++
			case http.StatusTooManyRequests:
				blocked++
			default:
				errs <- fmt.Errorf("request %d got status %d", id, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, capacity, allowed)
	assert.Equal(t, numRequests-capacity, blocked)

	counters := stack.engine.Metrics()
	assert.Equal(t, int64(numRequests), counters.TotalRequests)
	assert.Equal(t, int64(capacity), counters.TotalAllowed)
}

func TestIntegration_PersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buckets.json")
	persistence := models.PersistenceConfig{Type: "json", Path: path}
	ctx := context.Background()

	// First run: spend some tokens, then shut down
	store, err := storage.NewFactory().Create(persistence)
	require.NoError(t, err)
	first := newStack(t, store)
	snap := storage.NewSnapshotter(first.engine, store, 0, nil)

	req := models.CheckRequest{ClientKey: "carol", Capacity: float(10), RefillRate: float(0.5)}
	for i := 0; i < 4; i++ {
		resp := first.post(t, "/api/v1/check", req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.NoError(t, snap.Close())
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err, "snapshot file should exist after shutdown")

	// Second run at the same instant restores the spent bucket
	store, err = storage.NewFactory().Create(persistence)
	require.NoError(t, err)
	defer store.Close()
	second := newStack(t, store)
	restored, err := storage.NewSnapshotter(second.engine, store, 0, nil).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	status := decode[models.StatusResponse](t, second.get(t, "/api/v1/status/carol"))
	assert.True(t, status.Exists)
	assert.Equal(t, 6.0, status.Tokens)
	assert.Equal(t, 10.0, status.Capacity)
	assert.Equal(t, 0.5, status.RefillRate)

	health := decode[models.HealthCheckResponse](t, second.get(t, "/health"))
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Contains(t, health.Components, "storage")
}

func TestIntegration_ConfigLoading(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"
limits:
  default_capacity: 4
  default_refill_rate: 2
persistence:
  type: "json"
  path: "` + filepath.Join(tempDir, "buckets.json") + `"
logging:
  level: "debug"
  format: "text"
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	cfg, err := config.Load(configFile, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4.0, cfg.Limits.DefaultCapacity)
	assert.Equal(t, 2.0, cfg.Limits.DefaultRefillRate)
	assert.Equal(t, "json", cfg.Persistence.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// The loaded defaults shape new buckets
	engine, err := limiter.New(
		limiter.WithClock(clock.NewManual(epoch)),
		limiter.WithDefaultConfig(limiter.Config{
			Capacity:   cfg.Limits.DefaultCapacity,
			RefillRate: cfg.Limits.DefaultRefillRate,
		}),
	)
	require.NoError(t, err)

	decision, err := engine.Check("dave", 1, limiter.Config{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(3), decision.Remaining)
	assert.Equal(t, 4.0, decision.Limit)
}
