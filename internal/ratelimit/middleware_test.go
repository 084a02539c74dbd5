package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func newMiddlewareHandler(t *testing.T, gate *Gate, policy Policy) http.Handler {
	t.Helper()
	return Middleware(gate, policy, slog.Default())(http.HandlerFunc(okHandler))
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	store := newTestStore(t)
	gate := NewGate(store)
	handler := newMiddlewareHandler(t, gate, Policy{Window: time.Minute, MaxRequests: 10})

	req := httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", rr.Header().Get(HeaderLimit))
	assert.Equal(t, "9", rr.Header().Get(HeaderRemaining))
	assert.NotEmpty(t, rr.Header().Get(HeaderReset))
	assert.Empty(t, rr.Header().Get(HeaderRetryAfter))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	store := newTestStore(t)
	gate := NewGate(store)
	handler := newMiddlewareHandler(t, gate, Policy{Window: time.Minute, MaxRequests: 2})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/orders", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Third request should be denied
	req := httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "2", rr.Header().Get(HeaderLimit))

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeRateLimited, errResp.Code)
}

func TestMiddleware_KeyedRequestHitsDailyQuota(t *testing.T) {
	store := newTestStore(t)
	gate := NewGate(store)
	key := newQuotaKey(t, store, 1)
	handler := newMiddlewareHandler(t, gate, Policy{Window: time.Minute, MaxRequests: 100})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/orders", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.50")
		req = req.WithContext(ContextWithAPIKey(req.Context(), key))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send().Code)

	rr := send()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeDailyQuotaExceeded, errResp.Code)
}

func TestMiddleware_DisabledKeyForbidden(t *testing.T) {
	store := newTestStore(t)
	gate := NewGate(store)
	key := newQuotaKey(t, store, 100)
	key.Enabled = false
	require.NoError(t, store.UpdateAPIKey(context.Background(), key))

	handler := newMiddlewareHandler(t, gate, Policy{Window: time.Minute, MaxRequests: 100})

	req := httptest.NewRequest("GET", "/api/v1/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	req = req.WithContext(ContextWithAPIKey(req.Context(), key))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeForbidden, errResp.Code)
}

func TestMiddleware_SeparateClientsSeparateWindows(t *testing.T) {
	store := newTestStore(t)
	gate := NewGate(store)
	handler := newMiddlewareHandler(t, gate, Policy{Window: time.Minute, MaxRequests: 1})

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/api/v1/orders", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.50"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.50"))
	assert.Equal(t, http.StatusOK, send("203.0.113.51"))
}
