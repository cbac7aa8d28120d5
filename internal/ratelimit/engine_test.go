package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"ratelimiter/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, rpm, burst int) (*EngineLimiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(start)
	l, err := newEngineLimiter(rpm, burst, time.Hour, clk)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, clk
}

func TestNewEngineLimiter_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		rpm      int
		burst    int
		interval time.Duration
	}{
		{"zero rpm", 0, 10, time.Minute},
		{"zero burst", 60, 0, time.Minute},
		{"zero interval", 60, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngineLimiter(tt.rpm, tt.burst, tt.interval)
			assert.Error(t, err)
		})
	}
}

func TestEngineLimiter_UnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 10)

	allowed, info := l.Allow("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 9, info.Remaining)
	assert.Equal(t, start.Add(time.Second), info.ResetAt)
	assert.Zero(t, info.RetryAfter)
}

func TestEngineLimiter_ExceedsBurst(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow("1.2.3.4")
		require.True(t, allowed, "request %d", i+1)
	}

	allowed, info := l.Allow("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, time.Second, info.RetryAfter)
	assert.Equal(t, start.Add(3*time.Second), info.ResetAt)

	clk.Advance(time.Second)
	allowed, _ = l.Allow("1.2.3.4")
	assert.True(t, allowed, "one token refilled after a second at 60 rpm")
}

func TestEngineLimiter_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	allowed, _ := l.Allow("a")
	assert.True(t, allowed)
	allowed, _ = l.Allow("a")
	assert.False(t, allowed)

	allowed, _ = l.Allow("b")
	assert.True(t, allowed)
	assert.Equal(t, 2, l.Buckets())
}

func TestEngineLimiter_EmptyKey(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	allowed, _ := l.Allow("")
	assert.True(t, allowed)
	allowed, _ = l.Allow("")
	assert.False(t, allowed, "empty keys share one bucket")
}

func TestEngineLimiter_ConcurrentAccess(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestEngineLimiter_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, err := NewEngineLimiter(60, 10, 10*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	l.Close()
	l.Close()
}

func TestEngineLimiter_IdleClientsAreForgotten(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 5)

	for i := 0; i < 20; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Equal(t, 20, l.Buckets())

	// One pass per cleanup interval, with a scrape-style read in between.
	for i := 0; i < 2; i++ {
		clk.Advance(time.Hour)
		require.Len(t, l.engine.Buckets(), 20)
		l.evictor.RunOnce()
		assert.Equal(t, 20, l.Buckets(), "pass %d is within twice the interval", i+1)
	}

	clk.Advance(time.Minute)
	l.evictor.RunOnce()
	assert.Zero(t, l.Buckets())
}

func TestEngineLimiter_ActiveClientSurvivesCleanup(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 5)

	for i := 0; i < 6; i++ {
		l.Allow("10.0.0.1")
		clk.Advance(time.Hour)
		l.evictor.RunOnce()
		require.Equal(t, 1, l.Buckets(), "hour %d", i+1)
	}
}
