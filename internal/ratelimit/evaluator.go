package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventCounter is the slice of the storage interface the evaluator needs.
type EventCounter interface {
	CountEvents(ctx context.Context, identifier string, since time.Time) (int, error)
	OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error)
}

// Evaluator answers "may this identifier make one more request under this
// policy right now" by counting stored events in the sliding window. It
// holds no state of its own; every evaluation goes to storage.
type Evaluator struct {
	store  EventCounter
	logger *slog.Logger
}

// NewEvaluator creates an evaluator backed by the given event store.
func NewEvaluator(store EventCounter) *Evaluator {
	return &Evaluator{store: store, logger: slog.Default()}
}

// Evaluate counts events for the identifier inside [now-window, now] and
// compares against the policy maximum. The current request is not yet
// recorded, so allowed means count < max and Remaining already accounts for
// the request being admitted.
//
// On denial, ResetAt is when the oldest in-window event ages out, i.e. the
// earliest instant a slot frees up. That makes RetryAfter an upper bound: a
// client waiting that long is guaranteed a free slot, though one may open
// sooner. When the oldest event cannot be read the denial stands and ResetAt
// keeps the loose now+window bound; only the count query can fail the
// evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, identifier string, policy Policy, now time.Time) (Decision, error) {
	windowStart := now.Add(-policy.Window)

	count, err := e.store.CountEvents(ctx, identifier, windowStart)
	if err != nil {
		return Decision{}, fmt.Errorf("count events for %s: %w", identifier, err)
	}

	d := Decision{
		Limit:   policy.MaxRequests,
		ResetAt: now.Add(policy.Window),
	}

	if count < policy.MaxRequests {
		d.Allowed = true
		d.Remaining = policy.MaxRequests - count - 1
		return d, nil
	}

	d.Reason = ReasonWindowLimit
	oldest, err := e.store.OldestEvent(ctx, identifier, windowStart)
	switch {
	case err != nil:
		// The denial is already decided; a retry-metadata failure must
		// not upgrade it to an allow.
		e.logger.Warn("oldest event lookup failed, using loose retry bound",
			"identifier", identifier, "error", err)
	case !oldest.IsZero():
		d.ResetAt = oldest.Add(policy.Window)
	}
	d.RetryAfter = d.ResetAt.Sub(now)
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d, nil
}
