package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lightearth/lightearth-proxy/pkg/metrics"
	"github.com/lightearth/lightearth-proxy/pkg/ratelimit"
	"github.com/lightearth/lightearth-proxy/pkg/storage"
)

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(&mockHA{}, storage.NewMemory())
	srv.registry = metrics.NewRegistry()
	handler := srv.setupHandler()

	rr := get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = get(t, handler, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestMiddleware(t *testing.T) {
	srv := newTestServer(&mockHA{}, storage.NewMemory())
	handler := srv.setupHandler()

	t.Run("Headers", func(t *testing.T) {
		rr := get(t, handler, "/healthz")
		assert.Equal(t, "lightearth-test", rr.Header().Get("Server"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	})

	t.Run("Request Id Is Propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "2b1c1a34-93a4-4f0e-9a53-5a3c1c7d9e10")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, "2b1c1a34-93a4-4f0e-9a53-5a3c1c7d9e10", rr.Header().Get("X-Request-Id"))
	})

	t.Run("CORS Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/history/soc/P1", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Restricted Origins", func(t *testing.T) {
		srv := newTestServer(&mockHA{}, storage.NewMemory())
			srv.corsOrigins = []string{"https://dashboard.example.com"}
		handler := srv.setupHandler()

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	ha := &mockHA{}
	ha.On("History", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	srv := newTestServer(ha, storage.NewMemory())
	srv.apiLimiter = ratelimit.New(ratelimit.Config{Interval: time.Hour, Burst: 2})
	handler := srv.setupHandler()

	for i := 0; i < 2; i++ {
		rr := get(t, handler, "/api/history/soc/P1?date=2025-03-05")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := get(t, handler, "/api/history/soc/P1?date=2025-03-05")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// health checks are not limited
	rr = get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
}
