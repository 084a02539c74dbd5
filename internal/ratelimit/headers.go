package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

// Standard rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers renders a decision as response header values. The limit headers
// appear on every gated response, allowed or denied; Retry-After only
// accompanies a denial. Retry seconds round up so a client honoring the
// header never retries early.
func Headers(d Decision) map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(d.Limit),
		HeaderRemaining: strconv.Itoa(d.Remaining),
		HeaderReset:     strconv.FormatInt(d.ResetAt.Unix(), 10),
	}
	if !d.Allowed && d.RetryAfter > 0 {
		h[HeaderRetryAfter] = strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds())))
	}
	return h
}

// SetHeaders writes the rate limit headers for a decision onto a response.
func SetHeaders(w http.ResponseWriter, d Decision) {
	for name, value := range Headers(d) {
		w.Header().Set(name, value)
	}
}
