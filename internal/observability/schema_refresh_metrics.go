package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Refresh triggers.
const (
	RefreshStartup = "startup"
	RefreshPoll    = "poll"
	RefreshManual  = "manual"
)

// RefreshOutcome is the result of one schema refresh attempt.
type RefreshOutcome string

const (
	RefreshRebuilt   RefreshOutcome = "rebuilt"
	RefreshUnchanged RefreshOutcome = "unchanged"
	RefreshFailed    RefreshOutcome = "failed"
)

// SchemaRefreshMetrics tracks catalog polling and the active schema snapshot.
// Methods are no-ops on a nil receiver.
type SchemaRefreshMetrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram

	mu         sync.Mutex
	tables     int64
	rootFields int64
	builtAt    time.Time
}

// InitSchemaRefreshMetrics creates the refresh instruments on the global
// meter provider.
func InitSchemaRefreshMetrics(logger *slog.Logger) (*SchemaRefreshMetrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &SchemaRefreshMetrics{}
	var err error

	if m.attempts, err = meter.Int64Counter(
		"schema.refresh.attempts",
		metric.WithDescription("Schema refresh attempts by trigger and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema refresh counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram(
		"schema.refresh.duration",
		metric.WithDescription("Duration of schema refresh attempts in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema refresh duration histogram: %w", err)
	}

	tables, err := meter.Int64ObservableGauge(
		"schema.tables",
		metric.WithDescription("Tables and views in the active schema snapshot"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema tables gauge: %w", err)
	}
	rootFields, err := meter.Int64ObservableGauge(
		"schema.root_fields",
		metric.WithDescription("Query and Mutation root fields in the active schema snapshot"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema root fields gauge: %w", err)
	}
	age, err := meter.Float64ObservableGauge(
		"schema.snapshot.age",
		metric.WithDescription("Seconds since the active schema snapshot was built"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema snapshot age gauge: %w", err)
	}

	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.builtAt.IsZero() {
			return nil
		}
		o.ObserveInt64(tables, m.tables)
		o.ObserveInt64(rootFields, m.rootFields)
		o.ObserveFloat64(age, time.Since(m.builtAt).Seconds())
		return nil
	}, tables, rootFields, age); err != nil {
		return nil, fmt.Errorf("failed to register schema gauge callback: %w", err)
	}

	logger.Info("schema refresh metrics initialized")
	return m, nil
}

// RecordRefresh records one refresh attempt.
func (m *SchemaRefreshMetrics) RecordRefresh(ctx context.Context, trigger string, outcome RefreshOutcome, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", string(outcome)),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Microseconds())/1000, attrs)
}

// SetActiveSnapshot updates the gauges describing the snapshot now serving
// requests.
func (m *SchemaRefreshMetrics) SetActiveSnapshot(tables, rootFields int, builtAt time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = int64(tables)
	m.rootFields = int64(rootFields)
	m.builtAt = builtAt
}
