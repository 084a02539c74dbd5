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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/api"
	"storefront/internal/config"
	"storefront/internal/models"
	"storefront/internal/ratelimit"
	"storefront/internal/storage"
)

// Integration tests that exercise the admission gate end-to-end through the
// HTTP surface: authentication, sliding windows, daily quotas, and key
// administration against a live router.

type testEnv struct {
	store  *storage.MemoryStorage
	gate   *ratelimit.Gate
	server *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*models.Config)) *testEnv {
	t.Helper()

	store, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := ratelimit.NewGate(store)
	handlers := api.NewHandlers(store, gate)

	cfg := models.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	server := httptest.NewServer(api.SetupRoutes(handlers, cfg))
	t.Cleanup(server.Close)

	return &testEnv{store: store, gate: gate, server: server}
}

// seedAdminKey writes an admin key straight into storage, the way the
// bootstrap path does on startup.
func (e *testEnv) seedAdminKey(t *testing.T) string {
	t.Helper()
	raw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	key := models.NewAPIKey(models.NewKeyID(), "", "bootstrap", raw, []string{"admin"})
	require.NoError(t, e.store.CreateAPIKey(context.Background(), key))
	return raw
}

func (e *testEnv) request(t *testing.T, method, path, token, clientIP string, body any) *http.Response {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestIntegration_FullAdmissionFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	adminToken := env.seedAdminKey(t)

	// Step 1: mint a tenant key with a small daily quota.
	resp := env.request(t, "POST", "/api/v1/admin/keys", adminToken, "203.0.113.10", map[string]any{
		"name":        "tenant feed key",
		"merchant_id": "merchant-1",
		"permissions": []string{"read"},
		"daily_limit": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[map[string]any](t, resp)
	tenantToken, _ := created["key"].(string)
	require.NotEmpty(t, tenantToken)
	keyID, _ := created["id"].(string)
	require.NotEmpty(t, keyID)

	// Step 2: the tenant key works and carries rate limit headers. The
	// effective limit is the daily quota since it is tighter than the
	// window policy.
	resp = env.request(t, "GET", "/api/v1/usage", tenantToken, "203.0.113.20", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get(ratelimit.HeaderLimit))

	usage := decodeBody[map[string]any](t, resp)
	assert.Equal(t, float64(2), usage["daily_limit"])
	assert.Equal(t, float64(1), usage["used"], "this request's own admission is counted")

	// Step 3: exhaust the daily quota.
	resp = env.request(t, "GET", "/api/v1/usage", tenantToken, "203.0.113.20", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/v1/usage", tenantToken, "203.0.113.20", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(ratelimit.HeaderRetryAfter))

	denial := decodeBody[models.ErrorResponse](t, resp)
	assert.Equal(t, models.ErrorCodeDailyQuotaExceeded, denial.Code)

	// Step 4: disable the key through the admin surface; it is now refused
	// outright.
	resp = env.request(t, "PATCH", "/api/v1/admin/keys/"+keyID, adminToken, "203.0.113.10", map[string]any{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/v1/usage", tenantToken, "203.0.113.20", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "disabled keys fail authentication on the keyed surface")
	resp.Body.Close()

	// Step 5: delete the key; the raw token is dead.
	resp = env.request(t, "DELETE", "/api/v1/admin/keys/"+keyID, adminToken, "203.0.113.10", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/v1/usage", tenantToken, "203.0.113.20", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Health stayed reachable throughout.
	resp = env.request(t, "GET", "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[models.HealthCheckResponse](t, resp)
	assert.Equal(t, models.StatusHealthy, health.Status)
}

func TestIntegration_AnonymousWindowDenial(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.RateLimit.Feed = models.PolicyConfig{Window: time.Minute, MaxRequests: 3}
	})

	for i := 0; i < 3; i++ {
		resp := env.request(t, "GET", "/api/v1/feed/products", "", "203.0.113.77", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "3", resp.Header.Get(ratelimit.HeaderLimit))
		assert.Equal(t, strconv.Itoa(2-i), resp.Header.Get(ratelimit.HeaderRemaining))
		resp.Body.Close()
	}

	resp := env.request(t, "GET", "/api/v1/feed/products", "", "203.0.113.77", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(ratelimit.HeaderRemaining))

	retryAfter, err := strconv.Atoi(resp.Header.Get(ratelimit.HeaderRetryAfter))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)

	denial := decodeBody[models.ErrorResponse](t, resp)
	assert.Equal(t, models.ErrorCodeRateLimited, denial.Code)

	// A different client address has its own window.
	resp = env.request(t, "GET", "/api/v1/feed/products", "", "203.0.113.78", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestIntegration_WebhookIntake(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, "POST", "/api/v1/webhooks/stripe", "", "203.0.113.30", map[string]any{
		"type":     "payment.settled",
		"order_id": "ord_8812",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	ack := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "stripe", ack["provider"])
	assert.NotEmpty(t, ack["delivery_id"])

	// Malformed payloads are rejected before acknowledgement.
	req, err := http.NewRequest("POST", env.server.URL+"/api/v1/webhooks/stripe", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	badResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
	badResp.Body.Close()
}

func TestIntegration_ConcurrentRequests(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.RateLimit.Feed = models.PolicyConfig{Window: time.Minute, MaxRequests: 100}
	})

	const numRequests = 20
	results := make(chan error, numRequests)

	for i := 0; i < numRequests; i++ {
		go func(id int) {
			req, err := http.NewRequest("GET", env.server.URL+"/api/v1/feed/products", nil)
			if err != nil {
				results <- err
				return
			}
			req.Header.Set("X-Forwarded-For", "203.0.113.99")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				results <- fmt.Errorf("request %d failed: %v", id, err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				results <- fmt.Errorf("request %d got status %d", id, resp.StatusCode)
				return
			}
			results <- nil
		}(i)
	}

	for i := 0; i < numRequests; i++ {
		assert.NoError(t, <-results, "concurrent request failed")
	}

	// Every admitted request left exactly one event in the log.
	count, err := env.store.CountEvents(context.Background(),
		ratelimit.IPIdentifier("203.0.113.99"), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, numRequests, count)
}

func TestIntegration_PruneKeepsWindowsIntact(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.RateLimit.Feed = models.PolicyConfig{Window: time.Minute, MaxRequests: 5}
	})

	for i := 0; i < 2; i++ {
		resp := env.request(t, "GET", "/api/v1/feed/products", "", "203.0.113.55", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	// Pruning at the retention horizon must not touch in-window events.
	removed, err := env.gate.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	resp := env.request(t, "GET", "/api/v1/feed/products", "", "203.0.113.55", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get(ratelimit.HeaderRemaining))
	resp.Body.Close()
}

func TestIntegration_ConfigLoading(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "integration_config.yaml")

	configContent := `
server:
  port: 8081
  host: "127.0.0.1"
  read_timeout: 45s

storage:
  type: "memory"

security:
  enable_auth: true

rate_limit:
  enabled: true
  api:
    window: 1m
    max_requests: 120
  feed:
    window: 5m
    max_requests: 20
  webhook:
    window: 1m
    max_requests: 60
  retention: 36h
  prune_interval: 15m

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
  port: 9091
`

	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	cfg, err := config.Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, models.StorageTypeMemory, cfg.Storage.Type)
	assert.Equal(t, 120, cfg.RateLimit.API.MaxRequests)
	assert.Equal(t, 20, cfg.RateLimit.Feed.MaxRequests)
	assert.Equal(t, 36*time.Hour, cfg.RateLimit.Retention)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.PruneInterval)
	assert.Equal(t, 9091, cfg.Metrics.Port)

	assert.NoError(t, cfg.Validate())
}
