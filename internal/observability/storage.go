package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("storefront/storage")
	meter := otel.Meter("storefront/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) RecordEvent(ctx context.Context, event *models.RequestEvent) error {
	ctx, span := s.startSpan(ctx, "RecordEvent",
		attribute.String("identifier", event.Identifier),
	)
	start := time.Now()
	err := s.inner.RecordEvent(ctx, event)
	s.record(ctx, span, "RecordEvent", start, err)
	return err
}

func (s *InstrumentedStorage) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "CountEvents",
		attribute.String("identifier", identifier),
	)
	start := time.Now()
	result, err := s.inner.CountEvents(ctx, identifier, since)
	s.record(ctx, span, "CountEvents", start, err)
	return result, err
}

func (s *InstrumentedStorage) OldestEvent(ctx context.Context, identifier string, since time.Time) (time.Time, error) {
	ctx, span := s.startSpan(ctx, "OldestEvent",
		attribute.String("identifier", identifier),
	)
	start := time.Now()
	result, err := s.inner.OldestEvent(ctx, identifier, since)
	s.record(ctx, span, "OldestEvent", start, err)
	return result, err
}

func (s *InstrumentedStorage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PruneEvents")
	start := time.Now()
	result, err := s.inner.PruneEvents(ctx, before)
	s.record(ctx, span, "PruneEvents", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey",
		attribute.String("key_id", key.ID),
	)
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByID",
		attribute.String("key_id", id),
	)
	start := time.Now()
	result, err := s.inner.GetAPIKeyByID(ctx, id)
	s.record(ctx, span, "GetAPIKeyByID", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	// Hash is deliberately not attached as a span attribute.
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	result, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys")
	start := time.Now()
	result, err := s.inner.ListAPIKeys(ctx)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey",
		attribute.String("key_id", key.ID),
	)
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteAPIKey(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAPIKey",
		attribute.String("key_id", id),
	)
	start := time.Now()
	err := s.inner.DeleteAPIKey(ctx, id)
	s.record(ctx, span, "DeleteAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) RollDailyUsage(ctx context.Context, keyID string, date string) error {
	ctx, span := s.startSpan(ctx, "RollDailyUsage",
		attribute.String("key_id", keyID),
		attribute.String("date", date),
	)
	start := time.Now()
	err := s.inner.RollDailyUsage(ctx, keyID, date)
	s.record(ctx, span, "RollDailyUsage", start, err)
	return err
}

func (s *InstrumentedStorage) IncrementDailyUsage(ctx context.Context, keyID string) error {
	ctx, span := s.startSpan(ctx, "IncrementDailyUsage",
		attribute.String("key_id", keyID),
	)
	start := time.Now()
	err := s.inner.IncrementDailyUsage(ctx, keyID)
	s.record(ctx, span, "IncrementDailyUsage", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
