package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/models"
	"storefront/internal/ratelimit"
	"storefront/internal/storage"
	"storefront/internal/version"
)

// Handlers contains HTTP handlers for the storefront API
type Handlers struct {
	storage storage.Storage
	gate    *ratelimit.Gate
	feed    FeedProvider
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Storage, gate *ratelimit.Gate) *Handlers {
	return &Handlers{
		storage: store,
		gate:    gate,
	}
}

// SetFeedProvider wires the catalog-backed feed source. Without one, feed
// exports return an empty feed.
func (h *Handlers) SetFeedProvider(p FeedProvider) {
	h.feed = p
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	status := http.StatusOK
	if response.Status != models.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

// usageResponse reports a key's quota standing for the current UTC day.
type usageResponse struct {
	KeyID      string    `json:"key_id"`
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at"`
}

// GetUsage handles usage queries for the authenticated key
// GET /api/v1/usage
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	securityContext := GetSecurityContext(r)
	if securityContext == nil || securityContext.APIKey == nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "authentication required")
		return
	}

	// Re-read so the response reflects counters after this request's own
	// admission was recorded.
	key, err := h.storage.GetAPIKeyByID(r.Context(), securityContext.APIKey.ID)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to load usage")
		return
	}

	now := time.Now().UTC()
	used := key.DailyUsageCount
	if key.DailyUsageDate != models.UTCDate(now) {
		// Counter belongs to a previous day; the next admission resets it.
		used = 0
	}
	remaining := key.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	h.writeJSONResponse(w, http.StatusOK, usageResponse{
		KeyID:      key.ID,
		DailyLimit: key.DailyLimit,
		Used:       used,
		Remaining:  remaining,
		ResetsAt:   now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
