// Package middleware applies cross-cutting HTTP policies to the GraphQL
// endpoint: request logging, database role selection, rate limiting, CORS,
// request analysis, metrics and tracing.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"postgres-graphql/internal/logging"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the correlation ID echoed on every response.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// LoggingMiddleware assigns each request a correlation ID, stores a request
// scoped logger in the context and logs start and completion. quietPaths
// such as health checks log at debug unless they fail.
func LoggingMiddleware(logger *logging.Logger, quietPaths ...string) func(http.Handler) http.Handler {
	quiet := make(map[string]bool, len(quietPaths))
	for _, path := range quietPaths {
		quiet[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)

			ctx, reqLogger := logging.WithRequest(r.Context(), logger.WithFields(slog.String("component", "http")), id)
			ctx, out := withOutcome(ctx)
			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			base := slog.LevelInfo
			if quiet[r.URL.Path] {
				base = slog.LevelDebug
			}
			reqLogger.Log(ctx, base, "request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(start)
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.Status()),
				slog.Int64("bytes", sw.bytes),
				slog.Duration("duration", elapsed),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
			}
			if codes := out.errorCodes(); len(codes) > 0 {
				attrs = append(attrs, slog.Any("error_codes", codes))
			}
			reqLogger.Log(ctx, completionLevel(base, sw.Status()), "request completed", attrs...)
		})
	}
}

func completionLevel(base slog.Level, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	return base
}

// requestID returns the caller's X-Request-ID when it is printable ASCII of
// reasonable length, so it can be echoed into headers and logs unchanged.
// Anything else is replaced with a random UUID.
func requestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength {
		return uuid.NewString()
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return id
}
