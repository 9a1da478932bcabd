package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCorrelationID_GeneratesWhenMissing(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var seen string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationID_PropagatesHeader(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", GetCorrelationID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc123", rec.Header().Get("X-Correlation-ID"))
}

func TestGetCorrelationID_Unset(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", GetCorrelationID(req.Context()))
}

func TestRecovery_CatchesPanic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	handler := Recovery(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.False(t, body.Success)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.NotEmpty(t, body.Timestamp)
}

func TestRateLimit_Returns429WhenExceeded(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(&Config{GlobalRPS: 1, ClientRPS: 1, GlobalBurst: 1, ClientBurst: 1})
	defer limiter.Close()

	handler := RateLimit(limiter, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.False(t, body.Success)
}

func TestInMemoryRateLimiter_PerClientIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   1,
		ClientBurst: 1,
		MaxClients:  defaultMaxClients,
	})
	defer limiter.Close()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "second request from same client exceeds its bucket")
	assert.True(t, limiter.Allow("10.0.0.2"), "other clients keep their own bucket")
}

func TestInMemoryRateLimiter_Cleanup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	limiter := NewInMemoryRateLimiter(&Config{
		GlobalRPS:       100,
		ClientRPS:       10,
		CleanupInterval: time.Hour, // cleanup invoked manually below
		IdleTimeout:     time.Nanosecond,
		MaxClients:      defaultMaxClients,
	})
	defer limiter.Close()

	limiter.Allow("10.0.0.1")

	time.Sleep(time.Millisecond)
	limiter.cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Empty(t, limiter.perClient)
}

func TestCORS_Preflight(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := &staticCORSConfig{
		origins: []string{"*"},
		methods: []string{"GET", "POST"},
		headers: []string{"Content-Type"},
		maxAge:  3600,
	}

	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

type staticCORSConfig struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c *staticCORSConfig) GetAllowedOrigins() []string { return c.origins }
func (c *staticCORSConfig) GetAllowedMethods() []string { return c.methods }
func (c *staticCORSConfig) GetAllowedHeaders() []string { return c.headers }
func (c *staticCORSConfig) GetMaxAge() int              { return c.maxAge }

func TestApply_OrderIsOutermostFirst(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var order []string

	tag := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		tag("outer"),
		tag("inner"),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}
