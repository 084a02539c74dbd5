package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// Gate is the admission-control front door. Every inbound request passes
// through Check before any handler work: an IP tier always applies, and a
// key tier additionally applies when the request is authenticated. The tiers
// are evaluated in order and the first denial wins.
//
// When storage is unreachable the gate fails open: the request is admitted
// with the decision marked degraded, on the judgment that dropping
// legitimate traffic during a storage incident is worse than briefly
// over-admitting.
type Gate struct {
	store     storage.Storage
	evaluator *Evaluator
	quota     *QuotaSource
	retention time.Duration
	pruneRate *rate.Limiter
	logger    *slog.Logger
	observe   func(Decision)
	now       func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the gate's time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used for denial and degradation events.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
		g.evaluator.logger = logger
	}
}

// WithRetention sets how long admitted events are kept before pruning.
func WithRetention(retention time.Duration) GateOption {
	return func(g *Gate) { g.retention = retention }
}

// WithObserver registers a callback invoked with every admission decision.
func WithObserver(observe func(Decision)) GateOption {
	return func(g *Gate) { g.observe = observe }
}

// NewGate creates an admission gate over the given storage.
func NewGate(store storage.Storage, opts ...GateOption) *Gate {
	g := &Gate{
		store:     store,
		evaluator: NewEvaluator(store),
		quota:     NewQuotaSource(store),
		retention: 24 * time.Hour,
		// Opportunistic pruning piggybacks on request traffic; the
		// limiter keeps it from running more than once every few
		// minutes no matter how hot the endpoint is.
		pruneRate: rate.NewLimiter(rate.Every(5*time.Minute), 1),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs the admission decision for one request. keyID is empty for
// anonymous traffic. The request is not yet counted; callers admit it with
// RecordAndAdmit after acting on an allowed decision.
func (g *Gate) Check(ctx context.Context, r *http.Request, keyID string, policy Policy) Decision {
	d := g.check(ctx, r, keyID, policy)
	if g.observe != nil {
		g.observe(d)
	}
	return d
}

func (g *Gate) check(ctx context.Context, r *http.Request, keyID string, policy Policy) Decision {
	now := g.now().UTC()

	// Tier 1: per-IP sliding window. Applies to every request, keyed or
	// not, so a single address cannot hide behind many keys.
	ipDecision, err := g.evaluator.Evaluate(ctx, IPIdentifier(ClientIP(r)), policy, now)
	if err != nil {
		return g.degrade(err, policy, now)
	}
	if !ipDecision.Allowed {
		return ipDecision
	}

	if keyID == "" {
		return ipDecision
	}

	// Tier 2: per-key daily quota, then the key's own sliding window with
	// the effective limit min(daily limit, policy max).
	quotaDecision, key, err := g.quota.Check(ctx, keyID, policy, now)
	if err != nil {
		return g.degrade(err, policy, now)
	}
	if !quotaDecision.Allowed {
		return quotaDecision
	}

	keyPolicy := Policy{Window: policy.Window, MaxRequests: policy.MaxRequests}
	if key.DailyLimit < keyPolicy.MaxRequests {
		keyPolicy.MaxRequests = key.DailyLimit
	}
	keyDecision, err := g.evaluator.Evaluate(ctx, KeyIdentifier(keyID), keyPolicy, now)
	if err != nil {
		return g.degrade(err, policy, now)
	}
	if !keyDecision.Allowed {
		return keyDecision
	}

	// All tiers passed; report the most constrained one.
	return tightest(ipDecision, quotaDecision, keyDecision)
}

// RecordAndAdmit counts one admitted request: it appends the request event
// under the key identifier when authenticated (the IP identifier otherwise)
// and bumps the key's daily counter. Counter failures after admission are
// logged, not surfaced; the request has already been served a decision.
func (g *Gate) RecordAndAdmit(ctx context.Context, r *http.Request, keyID string) {
	now := g.now().UTC()

	identifier := IPIdentifier(ClientIP(r))
	if keyID != "" {
		identifier = KeyIdentifier(keyID)
	}

	event := models.NewRequestEvent(identifier, r.Method, r.URL.Path, r.UserAgent(), keyID, now)
	if err := g.store.RecordEvent(ctx, event); err != nil {
		g.logger.Error("failed to record request event",
			"identifier", identifier, "error", err)
	}

	if keyID != "" {
		if err := g.quota.Consume(ctx, keyID); err != nil {
			g.logger.Error("failed to increment daily usage",
				"api_key_id", keyID, "error", err)
		}
	}

	if g.pruneRate.Allow() {
		go g.pruneOnce(context.WithoutCancel(ctx), now)
	}
}

// Prune removes events older than the retention horizon. The background
// ticker and opportunistic pruning both land here.
func (g *Gate) Prune(ctx context.Context) (int64, error) {
	return g.store.PruneEvents(ctx, g.now().UTC().Add(-g.retention))
}

func (g *Gate) pruneOnce(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := g.store.PruneEvents(ctx, now.Add(-g.retention))
	if err != nil {
		g.logger.Warn("opportunistic prune failed", "error", err)
		return
	}
	if removed > 0 {
		g.logger.Debug("pruned expired events", "removed", removed)
	}
}

// degrade is the fail-open branch: storage is unreachable, so the request is
// admitted with conservative header values and the decision marked degraded.
func (g *Gate) degrade(err error, policy Policy, now time.Time) Decision {
	g.logger.Warn("admission check degraded, failing open", "error", err)
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: 0,
		ResetAt:   now.Add(policy.Window),
		Reason:    ReasonDegraded,
	}
}

// tightest returns the allowed decision with the least remaining headroom.
func tightest(decisions ...Decision) Decision {
	out := decisions[0]
	for _, d := range decisions[1:] {
		if d.Remaining < out.Remaining {
			out = d
		}
	}
	return out
}
