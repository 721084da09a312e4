package observability

import (
	"context"
	"errors"
	"time"

	"keepalive/internal/models"
	"keepalive/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
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
// A missing run is not counted as an error.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("keepalive/storage")
	meter := otel.Meter("keepalive/storage")

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

	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func filterAttributes(filter storage.RunFilter) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("filter.limit", filter.Limit),
		attribute.String("filter.outcome", string(filter.Outcome)),
		attribute.String("filter.trigger", string(filter.Trigger)),
	}
}

func (s *InstrumentedStorage) SaveRun(ctx context.Context, run *models.Run) error {
	ctx, span := s.startSpan(ctx, "SaveRun",
		attribute.String("run_id", run.ID),
		attribute.String("outcome", string(run.Outcome())),
	)
	start := time.Now()
	err := s.inner.SaveRun(ctx, run)
	s.record(ctx, span, "SaveRun", start, err)
	return err
}

func (s *InstrumentedStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	ctx, span := s.startSpan(ctx, "GetRun", attribute.String("run_id", id))
	start := time.Now()
	result, err := s.inner.GetRun(ctx, id)
	s.record(ctx, span, "GetRun", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*models.Run, error) {
	ctx, span := s.startSpan(ctx, "ListRuns", filterAttributes(filter)...)
	start := time.Now()
	result, err := s.inner.ListRuns(ctx, filter)
	s.record(ctx, span, "ListRuns", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountRuns(ctx context.Context, filter storage.RunFilter) (int, error) {
	ctx, span := s.startSpan(ctx, "CountRuns", filterAttributes(filter)...)
	start := time.Now()
	result, err := s.inner.CountRuns(ctx, filter)
	s.record(ctx, span, "CountRuns", start, err)
	return result, err
}

func (s *InstrumentedStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	ctx, span := s.startSpan(ctx, "LatestRun")
	start := time.Now()
	result, err := s.inner.LatestRun(ctx)
	s.record(ctx, span, "LatestRun", start, err)
	return result, err
}

func (s *InstrumentedStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "PruneRuns", attribute.String("before", before.UTC().Format(time.RFC3339)))
	start := time.Now()
	removed, err := s.inner.PruneRuns(ctx, before)
	span.SetAttributes(attribute.Int("removed", removed))
	s.record(ctx, span, "PruneRuns", start, err)
	return removed, err
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
