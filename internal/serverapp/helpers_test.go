package serverapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/testutil/fixture"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakePinger fails the first failures pings.
type fakePinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *fakePinger) PingContext(context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWrapHTTPHandler_UsesHTTPRootSpanName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	originalTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(originalTP)
	})

	cfg := &config.Config{
		Observability: config.ObservabilityConfig{TracingEnabled: true},
	}
	handler := wrapHTTPHandler(cfg, testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "GET /*")
}

func TestNormalizeHTTPSpanRoute(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"/graphql", "/graphql"},
		{"/compile", "/compile"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/graphql/extra", "/*"},
		{"/users/42", "/*"},
		{"", "/*"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeHTTPSpanRoute(tt.input))
		})
	}
}

func TestHTTPRootSpanName_NilRequest(t *testing.T) {
	assert.Equal(t, "HTTP /*", httpRootSpanName(nil))
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthHandler(&fakePinger{}, 0)(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy","database":"ok"}`, rec.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthHandler(&fakePinger{failures: 1}, time.Second)(rec, httptest.NewRequest(http.MethodGet, healthPath, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"unhealthy","database":"failed"}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "refused")
	})
}

func TestWaitForDatabase(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		ConnectionTimeout:       time.Second,
		ConnectionRetryInterval: time.Millisecond,
	}}

	db := &fakePinger{failures: 2}
	require.NoError(t, waitForDatabase(context.Background(), cfg, testLogger(), db))
	assert.Equal(t, int32(3), db.calls.Load())

	cfg.Database.ConnectionTimeout = 20 * time.Millisecond
	err := waitForDatabase(context.Background(), cfg, testLogger(), &fakePinger{failures: 1 << 20})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not available")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.Database.ConnectionTimeout = time.Minute
	err = waitForDatabase(ctx, cfg, testLogger(), &fakePinger{failures: 1 << 20})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForDatabase_NoTimeoutPingsOnce(t *testing.T) {
	cfg := &config.Config{}
	db := &fakePinger{failures: 1}
	require.Error(t, waitForDatabase(context.Background(), cfg, testLogger(), db))
	assert.Equal(t, int32(1), db.calls.Load())
}

func TestBuildRouter(t *testing.T) {
	schema := fixture.Schema(t)
	graphql := NewGraphQLHandler(StaticSchema(schema), nil, nil, CompilerOptions{DefaultPageSize: 25, MaxPageSize: 100})
	compileBody := `{"query":"{ user(lookup: {id: 1}) { id } }"}`

	serve := func(mux http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("compile endpoint disabled", func(t *testing.T) {
		cfg := &config.Config{}
		mux, err := buildRouter(cfg, testLogger(), &fakePinger{}, graphql, nil, false)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodPost, compilePath, compileBody, nil).Code)
		assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, metricsPath, "", nil).Code)
		assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, healthPath, "", nil).Code)

		rec := serve(mux, http.MethodGet, "/", "", nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, graphqlPath, rec.Header().Get("Location"))
	})

	t.Run("compile endpoint with token", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{
			CompileEndpointEnabled: true,
			CompileAuthToken:       "s3cret",
		}}
		mux, err := buildRouter(cfg, testLogger(), &fakePinger{}, graphql, nil, false)
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, serve(mux, http.MethodPost, compilePath, compileBody, nil).Code)

		rec := serve(mux, http.MethodPost, compilePath, compileBody, http.Header{"X-Compile-Token": {"s3cret"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `\"public\".\"users\"`)
	})

	t.Run("compile endpoint without token", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{CompileEndpointEnabled: true}}
		mux, err := buildRouter(cfg, testLogger(), &fakePinger{}, graphql, nil, false)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, serve(mux, http.MethodPost, compilePath, compileBody, nil).Code)
	})

	t.Run("schema reload", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{AdminAuthToken: "adm1n"}}
		reloader := &fakeReloader{}
		mux, err := buildRouter(cfg, testLogger(), &fakePinger{}, graphql, reloader, false)
		require.NoError(t, err)

		token := http.Header{"X-Admin-Token": {"adm1n"}}
		assert.Equal(t, http.StatusUnauthorized, serve(mux, http.MethodPost, reloadPath, "", nil).Code)
		assert.Equal(t, http.StatusMethodNotAllowed, serve(mux, http.MethodGet, reloadPath, "", token).Code)

		rec := serve(mux, http.MethodPost, reloadPath, "", token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
		assert.Equal(t, int32(1), reloader.calls.Load())

		reloader.err = errors.New("catalog unavailable")
		rec = serve(mux, http.MethodPost, reloadPath, "", token)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "catalog unavailable")
	})

	t.Run("schema reload needs a refresher", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{AdminAuthToken: "adm1n"}}
		mux, err := buildRouter(cfg, testLogger(), &fakePinger{}, graphql, nil, false)
		require.NoError(t, err)

		rec := serve(mux, http.MethodPost, reloadPath, "", http.Header{"X-Admin-Token": {"adm1n"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

type fakeReloader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReloader) RefreshNow(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestBuildSchemaSource_SDLIsStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(fixture.SDL), 0o600))

	cfg := &config.Config{
		Database: config.DatabaseConfig{Schemas: []string{"public"}},
		Schema: config.SchemaConfig{
			Source:             config.SchemaSourceSDL,
			SDLFile:            path,
			RefreshMinInterval: time.Second,
		},
	}
	source, refresher, err := buildSchemaSource(context.Background(), cfg, testLogger(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, refresher)
	require.NotNil(t, source.Schema())
	_, ok := source.Schema().FindRootField("userCreate")
	assert.True(t, ok)
}

func TestCompilerOptions(t *testing.T) {
	cfg := &config.Config{
		Compiler: config.CompilerConfig{DefaultPageSize: 10, MaxPageSize: 50, MaxDepth: 4, MaxRows: 1000},
		Server:   config.ServerConfig{RequestTimeout: 3 * time.Second},
	}
	opts := compilerOptions(cfg)
	assert.Equal(t, uint64(10), opts.DefaultPageSize)
	assert.Equal(t, uint64(50), opts.MaxPageSize)
	assert.Equal(t, 4, opts.Limits.MaxDepth)
	assert.Equal(t, 1000, opts.Limits.MaxRows)
	assert.Equal(t, 3*time.Second, opts.Timeout)
}

func TestLoadSchema_SDL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(fixture.SDL), 0o600))

	cfg := &config.Config{
		Database: config.DatabaseConfig{Schemas: []string{"public"}},
		Schema:   config.SchemaConfig{Source: config.SchemaSourceSDL, SDLFile: path},
	}
	schema, err := loadSchema(context.Background(), cfg, testLogger(), nil)
	require.NoError(t, err)

	rf, ok := schema.FindRootField("userCreate")
	require.True(t, ok)
	assert.True(t, rf.Kind.IsMutation())

	cfg.Schema.SDLFile = filepath.Join(t.TempDir(), "missing.graphql")
	_, err = loadSchema(context.Background(), cfg, testLogger(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read schema file")
}
