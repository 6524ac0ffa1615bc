package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"postgres-graphql/internal/gqlrequest"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/observability"
	"postgres-graphql/internal/planner"
)

// GraphQLRequestAnalysisMiddleware decodes and analyzes the GraphQL request once
// and stores derived metadata in request context for downstream middleware.
// Bodies larger than maxBytes are rejected with 413 when maxBytes is positive.
func GraphQLRequestAnalysisMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			analysis := gqlrequest.AnalyzeRequest(r)
			var tooLarge *http.MaxBytesError
			if errors.As(analysis.Err(), &tooLarge) {
				writeGraphQLError(w, r, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "REQUEST_TOO_LARGE")
				return
			}
			if analysis.Err() == nil {
				fields, err := planner.RootFields(analysis.Operation.SelectionSet, analysis.RootTypeName(),
					planner.WithVariables(analysis.Variables), planner.WithFragments(analysis.Fragments))
				if err == nil {
					analysis.RootFields = len(fields)
				}
			}
			ctx := gqlrequest.WithAnalysis(r.Context(), analysis)

			role, _ := RoleName(ctx)
			if fields := observability.GraphQLLogFields(ctx, analysis, role); len(fields) > 0 {
				ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(fields...))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
