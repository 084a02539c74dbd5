package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"storefront/internal/models"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// ContextWithAPIKey stores the authenticated key on a request context. The
// auth middleware calls this; the gate middleware reads it back.
func ContextWithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// APIKeyFromContext returns the authenticated key, or nil for anonymous
// requests.
func APIKeyFromContext(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key
}

// Middleware gates requests through the admission check with the given
// policy. It must run after authentication so keyed requests get their
// quota tier. Denied requests receive a 429 with the standard headers and a
// JSON error body; admitted requests are counted after the handler is
// selected, before it runs.
func Middleware(gate *Gate, policy Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := ""
			if key := APIKeyFromContext(r.Context()); key != nil {
				keyID = key.ID
			}

			decision := gate.Check(r.Context(), r, keyID, policy)
			SetHeaders(w, decision)

			if !decision.Allowed {
				logger.Warn("request denied",
					"reason", decision.Reason,
					"method", r.Method,
					"path", r.URL.Path,
					"client_ip", ClientIP(r),
					"api_key_id", keyID,
					"retry_after", decision.RetryAfter.String())
				writeDenial(w, decision)
				return
			}

			gate.RecordAndAdmit(r.Context(), r, keyID)
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenial(w http.ResponseWriter, d Decision) {
	code := models.ErrorCodeRateLimited
	message := "rate limit exceeded"
	status := http.StatusTooManyRequests

	switch d.Reason {
	case ReasonDailyQuota:
		code = models.ErrorCodeDailyQuotaExceeded
		message = "daily quota exceeded"
	case ReasonKeyInactive:
		code = models.ErrorCodeForbidden
		message = "API key is disabled"
		status = http.StatusForbidden
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code)) //nolint:errcheck
}
