package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GraphQLMetrics holds the request, compiler and executor instruments.
// All methods are no-ops on a nil receiver so handlers can record
// unconditionally.
type GraphQLMetrics struct {
	requestDuration   metric.Float64Histogram
	requestCounter    metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeRequests    metric.Int64UpDownCounter
	compileDuration   metric.Float64Histogram
	executeDuration   metric.Float64Histogram
	statementCounter  metric.Int64Counter
	planDepth         metric.Int64Histogram
	planRows          metric.Int64Histogram
	statementArgCount metric.Int64Histogram
}

// InitGraphQLMetrics creates the instruments on the global meter provider.
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &GraphQLMetrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	if m.requestCounter, err = meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	if m.errorCounter, err = meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL errors by code"),
	); err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of active GraphQL requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}
	if m.compileDuration, err = meter.Float64Histogram(
		"graphql.compile.duration",
		metric.WithDescription("Time spent compiling one root field into SQL"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}
	if m.executeDuration, err = meter.Float64Histogram(
		"graphql.statement.duration",
		metric.WithDescription("Time spent executing one compiled statement"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create statement duration histogram: %w", err)
	}
	if m.statementCounter, err = meter.Int64Counter(
		"graphql.statements.total",
		metric.WithDescription("Number of compiled statements by kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create statement counter: %w", err)
	}
	if m.planDepth, err = meter.Int64Histogram(
		"graphql.plan.depth",
		metric.WithDescription("Estimated depth of compiled plans"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plan depth histogram: %w", err)
	}
	if m.planRows, err = meter.Int64Histogram(
		"graphql.plan.rows",
		metric.WithDescription("Estimated row count of compiled plans"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plan rows histogram: %w", err)
	}
	if m.statementArgCount, err = meter.Int64Histogram(
		"graphql.statement.args",
		metric.WithDescription("Number of bound parameters per compiled statement"),
	); err != nil {
		return nil, fmt.Errorf("failed to create statement args histogram: %w", err)
	}
	return m, nil
}

// InitMetrics initializes the instruments and logs once they are ready.
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, error) {
	metrics, err := InitGraphQLMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}
	logger.Info("GraphQL compiler metrics initialized")
	return metrics, nil
}

// RecordRequest records a GraphQL request with its duration and outcome.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	)
	m.requestDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.requestCounter.Add(ctx, 1, attrs)
}

// RecordError counts one GraphQL error by its extensions code.
func (m *GraphQLMetrics) RecordError(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordCompile records the compilation of one root field.
func (m *GraphQLMetrics) RecordCompile(ctx context.Context, duration time.Duration, kind string, depth, rows, args int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("statement_kind", kind))
	m.compileDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.statementCounter.Add(ctx, 1, attrs)
	m.planDepth.Record(ctx, int64(depth), attrs)
	m.planRows.Record(ctx, int64(rows), attrs)
	m.statementArgCount.Record(ctx, int64(args), attrs)
}

// RecordExecute records the execution of one compiled statement.
func (m *GraphQLMetrics) RecordExecute(ctx context.Context, duration time.Duration, kind string, success bool) {
	if m == nil {
		return
	}
	m.executeDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("statement_kind", kind),
		attribute.Bool("success", success),
	))
}

// IncrementActiveRequests increments the active requests counter.
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter.
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}
