package observability

import (
	"context"
	"log/slog"
	"strings"

	"postgres-graphql/internal/gqlrequest"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// requestAttributes lists what is known about a GraphQL request before it is
// compiled. Empty strings and zero counts are left out.
func requestAttributes(analysis *gqlrequest.Analysis, role string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	str := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	num := func(key string, value int) {
		if value > 0 {
			attrs = append(attrs, attribute.Int(key, value))
		}
	}

	if analysis != nil {
		str("graphql.operation.name", analysis.OperationName)
		str("graphql.operation.type", analysis.OperationType)
		str("graphql.operation.fingerprint", analysis.Fingerprint)
		num("graphql.document.size_bytes", len(analysis.Envelope.Query))
		num("graphql.query.field_count", analysis.Shape.Fields)
		num("graphql.query.depth", analysis.Shape.Depth)
		num("graphql.query.variable_count", analysis.Shape.Variables)
		num("graphql.root_field_count", analysis.RootFields)
	}
	str("db.role", role)
	return attrs
}

// GraphQLSpanAttributes returns the span attributes describing a request.
func GraphQLSpanAttributes(analysis *gqlrequest.Analysis, role string) []attribute.KeyValue {
	return requestAttributes(analysis, role)
}

// GraphQLLogFields returns the span attributes as slog attributes, keyed
// without the "graphql." prefix and with dots replaced by underscores, plus
// the trace id of ctx when there is one.
func GraphQLLogFields(ctx context.Context, analysis *gqlrequest.Analysis, role string) []any {
	attrs := requestAttributes(analysis, role)
	fields := make([]any, 0, len(attrs)+1)
	for _, kv := range attrs {
		key := strings.ReplaceAll(strings.TrimPrefix(string(kv.Key), "graphql."), ".", "_")
		fields = append(fields, slog.Any(key, kv.Value.AsInterface()))
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
