// Package ratelimit implements the request admission-control gate for the
// storefront API: a two-tier, storage-backed rate limiter combining sliding
// request windows with per-API-key daily quotas. All counters live in durable
// storage, so limits survive restarts and hold across multiple stateless
// server instances. It includes HTTP middleware that sets standard rate limit
// response headers.
package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"storefront/internal/models"
)

// Policy is one (window, max requests) limit pair. The platform defines one
// policy per endpoint class; handlers select the policy, the gate never
// infers it from the request.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultPolicies returns the standard endpoint-class policies from config.
func DefaultPolicies(cfg models.RateLimitConfig) (api, feed, webhook Policy) {
	api = Policy{Window: cfg.API.Window, MaxRequests: cfg.API.MaxRequests}
	feed = Policy{Window: cfg.Feed.Window, MaxRequests: cfg.Feed.MaxRequests}
	webhook = Policy{Window: cfg.Webhook.Window, MaxRequests: cfg.Webhook.MaxRequests}
	return api, feed, webhook
}

// Denial reasons. RateLimited and KeyInactive outcomes are ordinary
// decisions, not errors; Degraded marks the fail-open branch taken when
// storage is unreachable.
const (
	ReasonWindowLimit = "window_limit"
	ReasonDailyQuota  = "daily_quota"
	ReasonKeyInactive = "key_inactive"
	ReasonDegraded    = "degraded"
)

// Decision is the transient result of one admission check. It is computed
// per request and never persisted.
type Decision struct {
	Allowed    bool
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests remaining in the window
	ResetAt    time.Time     // When the limit frees up (approximate)
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
	Reason     string        // Why the request was denied, or "degraded"
}

// IPIdentifier scopes counters to a client address.
func IPIdentifier(addr string) string {
	return "ip:" + addr
}

// KeyIdentifier scopes counters to an API key.
func KeyIdentifier(keyID string) string {
	return "apikey:" + keyID
}

// ClientIP extracts the client IP from proxy headers: the first
// X-Forwarded-For entry, then X-Real-IP. A request with neither still gets
// the shared "unknown" identifier rather than bypassing the gate.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 && strings.TrimSpace(ips[0]) != "" {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return "unknown"
}
