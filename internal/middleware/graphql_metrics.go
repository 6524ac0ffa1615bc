package middleware

import (
	"net/http"
	"time"

	"postgres-graphql/internal/gqlrequest"
	"postgres-graphql/internal/observability"
)

// GraphQLMetricsMiddleware records request counts, latency and error codes.
// It must run inside GraphQLRequestAnalysisMiddleware to label requests by
// operation type; error codes come from ReportErrorCodes.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, out := withOutcome(r.Context())
			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			elapsed := time.Since(start)

			codes := out.errorCodes()
			for _, code := range codes {
				metrics.RecordError(ctx, code)
			}
			failed := sw.Status() >= http.StatusBadRequest || len(codes) > 0
			metrics.RecordRequest(ctx, elapsed, failed, operationLabel(gqlrequest.AnalysisFromContext(ctx)))
		})
	}
}

func operationLabel(analysis *gqlrequest.Analysis) string {
	if analysis == nil || analysis.Err() != nil || analysis.OperationType == "" {
		return "unknown"
	}
	return analysis.OperationType
}
