package ratelimit

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaders_Allowed(t *testing.T) {
	resetAt := time.Date(2026, 3, 15, 12, 1, 0, 0, time.UTC)
	h := Headers(Decision{
		Allowed:   true,
		Limit:     100,
		Remaining: 42,
		ResetAt:   resetAt,
	})

	assert.Equal(t, "100", h[HeaderLimit])
	assert.Equal(t, "42", h[HeaderRemaining])
	assert.Equal(t, strconv.FormatInt(resetAt.Unix(), 10), h[HeaderReset])
	assert.NotContains(t, h, HeaderRetryAfter, "allowed responses carry no Retry-After")
}

func TestHeaders_DeniedRoundsRetryUp(t *testing.T) {
	h := Headers(Decision{
		Allowed:    false,
		Limit:      3,
		Remaining:  0,
		ResetAt:    time.Date(2026, 3, 15, 12, 1, 0, 0, time.UTC),
		RetryAfter: 29*time.Second + 300*time.Millisecond,
		Reason:     ReasonWindowLimit,
	})

	assert.Equal(t, "30", h[HeaderRetryAfter])
	assert.Equal(t, "0", h[HeaderRemaining])
}

func TestSetHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SetHeaders(rr, Decision{
		Allowed:    false,
		Limit:      10,
		Remaining:  0,
		ResetAt:    time.Date(2026, 3, 15, 12, 1, 0, 0, time.UTC),
		RetryAfter: 45 * time.Second,
		Reason:     ReasonWindowLimit,
	})

	assert.Equal(t, "10", rr.Header().Get(HeaderLimit))
	assert.Equal(t, "0", rr.Header().Get(HeaderRemaining))
	assert.Equal(t, "45", rr.Header().Get(HeaderRetryAfter))
	assert.NotEmpty(t, rr.Header().Get(HeaderReset))
}
