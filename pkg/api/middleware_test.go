package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeadersApplied(t *testing.T) {
	s := newTestServer(t, testConfig(), newFakeStore())

	rec := doJSON(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeyEnabled = true
	cfg.APIKey = "hunter2"
	s := newTestServer(t, cfg, newFakeStore())

	t.Run("missing key", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/api/v1/strategies", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
		req.Header.Set("X-API-Key", "hunter3")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
		req.Header.Set("X-API-Key", "hunter2")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
		req.Header.Set("Authorization", "Bearer hunter2")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("query param for websocket clients", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/api/v1/strategies?api_key=hunter2", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health probe stays open", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://dashboard.example.com"}
	s := newTestServer(t, cfg, newFakeStore())

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/experiments", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"), "third request in the window is rejected")
	assert.True(t, rl.allow("10.0.0.2"), "limits are per client")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEnabled = true
	cfg.RequestsPerMinute = 1
	s := newTestServer(t, cfg, newFakeStore())

	rec := doJSON(s, http.MethodGet, "/api/v1/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(s, http.MethodGet, "/api/v1/strategies", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
