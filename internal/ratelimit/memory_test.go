package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/ratelimit"
)

func TestMemoryLimiterBurst(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 3)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be limited")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	ctx := context.Background()
	ok, _ := limiter.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "a fresh key gets its own bucket")
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 100 tokens/s so the refill window is short enough for a unit test.
	limiter := ratelimit.NewMemoryLimiter(100, 1)
	defer limiter.Close()

	ctx := context.Background()
	ok, _ := limiter.Allow(ctx, "10.0.0.1")
	require.True(t, ok)
	ok, _ = limiter.Allow(ctx, "10.0.0.1")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)

	ok, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "bucket should refill after waiting")
}

func TestMemoryLimiterSteadyRate(t *testing.T) {
	// Burst of 1: requests conform only when spaced at least one interval
	// (10ms at 100/s) apart.
	limiter := ratelimit.NewMemoryLimiter(100, 1)
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "paced request %d should conform", i+1)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNoopLimiter(t *testing.T) {
	limiter := ratelimit.NoopLimiter{}
	for i := 0; i < 100; i++ {
		ok, err := limiter.Allow(context.Background(), "anyone")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.NoError(t, limiter.Close())
}

func TestMiddlewareLimitsAndSetsRetryAfter(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	handler := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.RemoteAddr = "10.0.0.1:55555"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := ratelimit.Middleware(nil, ratelimit.IPKeyFunc, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:40812"
	assert.Equal(t, "192.168.1.7", ratelimit.IPKeyFunc(req))
}
