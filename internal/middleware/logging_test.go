package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postgres-graphql/internal/logging"

	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "debug", Format: "json", Writer: &buf})

	var seen string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
	assert.Contains(t, buf.String(), `"bytes":2`)
}

func TestLoggingMiddleware_ReplacesInvalidRequestID(t *testing.T) {
	logger := logging.NewLogger(logging.Config{Level: "info", Format: "json", Writer: &bytes.Buffer{}})
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, id := range []string{"", "has space", strings.Repeat("a", maxRequestIDLength+1)} {
		req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
		req.Header.Set(RequestIDHeader, id)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get(RequestIDHeader)
		assert.NotEqual(t, id, got)
		assert.Len(t, got, 36)
	}
}

func TestLoggingMiddleware_QuietPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "info", Format: "json", Writer: &buf})
	handler := LoggingMiddleware(logger, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Contains(t, buf.String(), "request completed")
}

func TestLoggingMiddleware_CompletionLevelAndCodes(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "info", Format: "json", Writer: &buf})
	handler := LoggingMiddleware(logger, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeGraphQLError(w, r, http.StatusServiceUnavailable, "database unavailable", "UNAVAILABLE")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"status":503`)
	assert.Contains(t, out, `"error_codes":["UNAVAILABLE"]`)
}

func TestCompletionLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, completionLevel(slog.LevelDebug, http.StatusOK))
	assert.Equal(t, slog.LevelInfo, completionLevel(slog.LevelInfo, http.StatusNoContent))
	assert.Equal(t, slog.LevelWarn, completionLevel(slog.LevelDebug, http.StatusNotFound))
	assert.Equal(t, slog.LevelError, completionLevel(slog.LevelInfo, http.StatusBadGateway))
}
