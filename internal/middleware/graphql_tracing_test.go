package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTracing(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	old := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(old)
	})
	return recorder
}

func TestGraphQLTracingMiddleware_RecordsExecuteSpan(t *testing.T) {
	recorder := setupTracing(t)

	handler := GraphQLRequestAnalysisMiddleware(0)(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"query Users { users { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.execute", spans[0].Name())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "Users", attrs["graphql.operation.name"])
	assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"])
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGraphQLTracingMiddleware_MarksInvalidDocument(t *testing.T) {
	recorder := setupTracing(t)

	handler := GraphQLRequestAnalysisMiddleware(0)(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ users { id "}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestGraphQLTracingMiddleware_RecordsReportedCodes(t *testing.T) {
	recorder := setupTracing(t)

	handler := GraphQLRequestAnalysisMiddleware(0)(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ReportErrorCodes(r.Context(), "SCHEMA_MISMATCH")
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ users { nope } }"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	var got []string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "graphql.error.codes" {
			got = kv.Value.AsStringSlice()
		}
	}
	assert.Equal(t, []string{"SCHEMA_MISMATCH"}, got)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGraphQLTracingMiddleware_SkipsEmptyQuery(t *testing.T) {
	recorder := setupTracing(t)

	handler := GraphQLRequestAnalysisMiddleware(0)(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))

	assert.Empty(t, recorder.Ended())
}
