package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"storefront/internal/ratelimit"
)

// AdmissionMetrics counts gate decisions by outcome so dashboards can track
// denial and degradation rates per reason.
type AdmissionMetrics struct {
	decisions metric.Int64Counter
}

// NewAdmissionMetrics creates the admission decision counter.
func NewAdmissionMetrics() (*AdmissionMetrics, error) {
	meter := otel.Meter("storefront/ratelimit")

	decisions, err := meter.Int64Counter(
		"gate.decisions",
		metric.WithDescription("Number of admission gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{decisions: decisions}, nil
}

// Observe records one decision. Wire it into the gate with
// ratelimit.WithObserver.
func (am *AdmissionMetrics) Observe(d ratelimit.Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	am.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", d.Reason),
	))
}
