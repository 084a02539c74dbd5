package ratelimit

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// QuotaSource checks per-key daily quotas against the stored usage counters.
// The counters are system of record in storage; this type only decides.
type QuotaSource struct {
	store storage.Storage
}

// NewQuotaSource creates a quota source over the given storage.
func NewQuotaSource(store storage.Storage) *QuotaSource {
	return &QuotaSource{store: store}
}

// Check loads the key's quota state for the current UTC date and decides
// whether one more request fits under its daily limit. The roll-over is a
// conditional update keyed on the stored date, never a read-modify-write, so
// concurrent instances crossing midnight cannot clobber each other.
//
// The effective per-window limit for a keyed request is the smaller of the
// key's daily limit and the policy maximum; it caps the Limit header only.
// Remaining is daily headroom — window headroom comes from the key-tier
// window evaluation, so the daily counter never masks an empty window.
func (q *QuotaSource) Check(ctx context.Context, keyID string, policy Policy, now time.Time) (Decision, *models.APIKey, error) {
	today := models.UTCDate(now)

	if err := q.store.RollDailyUsage(ctx, keyID, today); err != nil {
		return Decision{}, nil, fmt.Errorf("roll daily usage for %s: %w", keyID, err)
	}

	key, err := q.store.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("load api key %s: %w", keyID, err)
	}

	limit := key.DailyLimit
	if policy.MaxRequests < limit {
		limit = policy.MaxRequests
	}

	midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	d := Decision{
		Limit:   limit,
		ResetAt: midnight,
	}

	if !key.Enabled {
		d.Reason = ReasonKeyInactive
		d.RetryAfter = 0
		return d, key, nil
	}

	if key.DailyUsageCount >= key.DailyLimit {
		d.Reason = ReasonDailyQuota
		d.RetryAfter = midnight.Sub(now)
		return d, key, nil
	}

	d.Allowed = true
	d.Remaining = key.DailyLimit - key.DailyUsageCount - 1
	return d, key, nil
}

// Consume records one admitted request against the key's daily counter.
func (q *QuotaSource) Consume(ctx context.Context, keyID string) error {
	if err := q.store.IncrementDailyUsage(ctx, keyID); err != nil {
		return fmt.Errorf("increment daily usage for %s: %w", keyID, err)
	}
	return nil
}
