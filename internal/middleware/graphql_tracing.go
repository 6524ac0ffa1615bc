package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"postgres-graphql/internal/gqlrequest"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GraphQLTracingMiddleware opens a graphql.execute span around the handler.
// The compile and execute spans the handler starts become its children, and
// the request logger gains the trace and span IDs.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer(observability.InstrumentationName + "/graphql")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalysisFromContext(r.Context())
			if analysis == nil || strings.TrimSpace(analysis.Envelope.Query) == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracer.Start(r.Context(), "graphql.execute")
			defer span.End()
			ctx = withTraceLogger(ctx, span)
			ctx, out := withOutcome(ctx)

			if span.IsRecording() {
				role, _ := RoleName(ctx)
				span.SetAttributes(observability.GraphQLSpanAttributes(analysis, role)...)
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if span.IsRecording() {
				finishSpan(span, analysis, sw.Status(), out.errorCodes())
			}
		})
	}
}

func withTraceLogger(ctx context.Context, span trace.Span) context.Context {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ctx
	}
	return logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	))
}

// finishSpan marks the span failed for unparseable documents and server
// errors. GraphQL errors on a 200 are recorded but leave the status unset.
func finishSpan(span trace.Span, analysis *gqlrequest.Analysis, status int, errorCodes []string) {
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if len(errorCodes) > 0 {
		span.SetAttributes(attribute.StringSlice("graphql.error.codes", errorCodes))
	}
	switch {
	case analysis.Err() != nil:
		span.SetStatus(codes.Error, analysis.Err().Error())
	case status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
