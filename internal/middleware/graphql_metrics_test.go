package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postgres-graphql/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meteredChain installs a manual reader as the global meter provider and
// returns next wrapped the way the server wraps the GraphQL handler.
func meteredChain(t *testing.T, next http.Handler) (http.Handler, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetMeterProvider(previous)
	})

	metrics, err := observability.InitGraphQLMetrics()
	require.NoError(t, err)
	return GraphQLRequestAnalysisMiddleware(0)(GraphQLMetricsMiddleware(metrics)(next)), reader
}

// counterTotals sums an int64 counter by the value of one attribute.
func counterTotals(t *testing.T, reader *sdkmetric.ManualReader, name string, key attribute.Key) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(key)
				label := v.Emit()
				if hasErrors, ok := dp.Attributes.Value("has_errors"); ok && key != "has_errors" {
					label += "/" + hasErrors.Emit()
				}
				totals[label] += dp.Value
			}
		}
	}
	return totals
}

func TestGraphQLMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		status     int
		codes      []string
		wantReq    map[string]int64
		wantErrors map[string]int64
	}{
		{
			name:    "mutation",
			method:  http.MethodPost,
			body:    `{"query":"mutation Purge { userDelete(id: 1) { id } }","operationName":"Purge"}`,
			wantReq: map[string]int64{"mutation/false": 1},
		},
		{
			name:    "query over GET",
			method:  http.MethodGet,
			target:  "/graphql?query=%7B+users+%7B+id+%7D+%7D",
			wantReq: map[string]int64{"query/false": 1},
		},
		{
			name:       "reported errors on a 200",
			method:     http.MethodPost,
			body:       `{"query":"{ users { id } }"}`,
			codes:      []string{"INVALID_ARGUMENT", ""},
			wantReq:    map[string]int64{"query/true": 1},
			wantErrors: map[string]int64{"INVALID_ARGUMENT": 1, "INTERNAL_ERROR": 1},
		},
		{
			name:    "error status without codes",
			method:  http.MethodPost,
			body:    `{"query":"{ users { id } }"}`,
			status:  http.StatusServiceUnavailable,
			wantReq: map[string]int64{"query/true": 1},
		},
		{
			name:    "unparseable body",
			method:  http.MethodPost,
			body:    `{"query":`,
			wantReq: map[string]int64{"unknown/false": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, reader := meteredChain(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ReportErrorCodes(r.Context(), tt.codes...)
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte(`{"data":null}`))
			}))

			target := tt.target
			if target == "" {
				target = "/graphql"
			}
			req := httptest.NewRequest(tt.method, target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.wantReq, counterTotals(t, reader, "graphql.requests.total", "operation_type"))
			errs := counterTotals(t, reader, "graphql.errors.total", "code")
			if tt.wantErrors == nil {
				assert.Empty(t, errs)
			} else {
				assert.Equal(t, tt.wantErrors, errs)
			}
		})
	}
}

func TestGraphQLMetricsMiddleware_NilMetrics(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := GraphQLMetricsMiddleware(nil)(next)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportErrorCodes_WithoutOutcome(t *testing.T) {
	assert.NotPanics(t, func() {
		ReportErrorCodes(context.Background(), "FORBIDDEN")
	})
}
