package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/dbexec"
	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/middleware"
	"postgres-graphql/internal/naming"
	"postgres-graphql/internal/observability"
	"postgres-graphql/internal/planner"
	"postgres-graphql/internal/schemafilter"
	"postgres-graphql/internal/schemarefresh"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes served by the app.
const (
	graphqlPath = "/graphql"
	compilePath = "/compile"
	healthPath  = "/healthz"
	metricsPath = "/metrics"
	reloadPath  = "/admin/reload-schema"

	adminTokenHeader = "X-Admin-Token"
)

// InitLogger builds the process logger. With log exports enabled it also
// returns the OTLP logger provider, which the caller must shut down.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized")

	return logger, loggerProvider, nil
}

// otelConfig maps one signal's OTLP settings onto the observability config.
func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.GraphQLMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}
	graphqlMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	return meterProvider, graphqlMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}
	logger.Info("OpenTelemetry tracing initialized")
	return tracerProvider, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, dbexec.StatsRegistration, error) {
	obs := cfg.Observability
	if obs.SQLCommenterEnabled && !obs.TracingEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, reg, err := dbexec.Open(dbexec.OpenConfig{
		DSN:          cfg.Database.DSN(),
		Tracing:      obs.TracingEnabled,
		Metrics:      obs.MetricsEnabled,
		SQLCommenter: obs.SQLCommenterEnabled && obs.TracingEnabled,
	})
	if err != nil {
		return nil, nil, err
	}
	if obs.TracingEnabled || obs.MetricsEnabled {
		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", obs.MetricsEnabled),
			slog.Bool("tracing", obs.TracingEnabled),
			slog.Bool("sqlcommenter", obs.SQLCommenterEnabled && obs.TracingEnabled),
		)
	}

	pool := cfg.Database.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	return db, reg, nil
}

// pinger is the part of *sql.DB used to wait for the database.
type pinger interface {
	PingContext(ctx context.Context) error
}

// waitForDatabase pings until the database answers or the connection timeout
// passes. The retry interval doubles after each failure, capped at 30s.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db pinger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 30*time.Second)
	}
}

// loadSchema builds the schema model from the catalog or from an SDL file.
func loadSchema(ctx context.Context, cfg *config.Config, logger *logging.Logger, db introspection.Queryer) (*introspection.Schema, error) {
	namer := naming.New(cfg.Naming, logger.Logger)

	var (
		schema *introspection.Schema
		err    error
	)
	start := time.Now()
	switch cfg.Schema.Source {
	case config.SchemaSourceSDL:
		body, readErr := os.ReadFile(cfg.Schema.SDLFile)
		if readErr != nil {
			return nil, fmt.Errorf("read schema file: %w", readErr)
		}
		defaultSchema := cfg.Schema.DefaultSchema
		if defaultSchema == "" && len(cfg.Database.Schemas) > 0 {
			defaultSchema = cfg.Database.Schemas[0]
		}
		schema, err = introspection.LoadSDL(string(body), defaultSchema, namer)
	default:
		schema, err = introspection.IntrospectDatabase(ctx, db, cfg.Database.Schemas, namer,
			introspection.WithFilter(schemafilter.New(cfg.Schema.Filter)))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("schema loaded",
		slog.String("source", cfg.Schema.Source),
		slog.Int("tables", len(schema.UsableTables())),
		slog.Int("root_fields", len(schema.RootFieldNames())),
		slog.Duration("duration", time.Since(start)),
	)
	return schema, nil
}

// buildSchemaSource loads the schema model. For the catalog source with a
// refresh interval it returns the refresh manager as the source; the caller
// starts it.
func buildSchemaSource(ctx context.Context, cfg *config.Config, logger *logging.Logger, db introspection.Queryer, metrics *observability.SchemaRefreshMetrics) (SchemaSource, *schemarefresh.Manager, error) {
	if cfg.Schema.Source == config.SchemaSourceSDL || cfg.Schema.RefreshMinInterval <= 0 {
		schema, err := loadSchema(ctx, cfg, logger, db)
		if err != nil {
			return nil, nil, err
		}
		return StaticSchema(schema), nil, nil
	}

	manager, err := schemarefresh.NewManager(ctx, schemarefresh.Config{
		Queryer: db,
		Schemas: cfg.Database.Schemas,
		Load: func(ctx context.Context) (*introspection.Schema, error) {
			return loadSchema(ctx, cfg, logger, db)
		},
		Logger:      logger,
		Metrics:     metrics,
		MinInterval: cfg.Schema.RefreshMinInterval,
		MaxInterval: cfg.Schema.RefreshMaxInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	return manager, manager, nil
}

// buildQueryExecutor returns a role-aware executor when per-request roles are
// enabled, otherwise one that runs statements as the login user.
func buildQueryExecutor(cfg *config.Config, db *sql.DB) dbexec.QueryExecutor {
	if !cfg.Server.Roles.Enabled {
		return dbexec.NewPoolExecutor(db)
	}
	return dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db,
		RoleFromCtx:  middleware.RoleName,
		AllowedRoles: cfg.Server.Roles.AllowedRoles,
	})
}

func compilerOptions(cfg *config.Config) CompilerOptions {
	return CompilerOptions{
		DefaultPageSize: uint64(cfg.Compiler.DefaultPageSize),
		MaxPageSize:     uint64(cfg.Compiler.MaxPageSize),
		Limits: planner.PlanLimits{
			MaxDepth:      cfg.Compiler.MaxDepth,
			MaxComplexity: cfg.Compiler.MaxComplexity,
			MaxRows:       cfg.Compiler.MaxRows,
		},
		Timeout: cfg.Server.RequestTimeout,
	}
}

// graphqlChain wraps a GraphQL endpoint with the per-request middleware.
// Roles are resolved first so the analysis can record them.
func graphqlChain(cfg *config.Config, metrics *observability.GraphQLMetrics, next http.Handler) http.Handler {
	handler := middleware.GraphQLTracingMiddleware()(next)
	handler = middleware.GraphQLMetricsMiddleware(metrics)(handler)
	handler = middleware.GraphQLRequestAnalysisMiddleware(cfg.Server.MaxRequestBytes)(handler)
	if cfg.Server.Roles.Enabled {
		handler = middleware.DBRoleMiddleware(middleware.DBRoleConfig{
			Header:       cfg.Server.Roles.Header,
			Required:     cfg.Server.Roles.Required,
			AllowedRoles: cfg.Server.Roles.AllowedRoles,
		})(handler)
	}
	return handler
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db pinger, graphql *GraphQLHandler, reloader schemaReloader, metricsEnabled bool) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle(graphqlPath, graphqlChain(cfg, graphql.metrics, graphql))

	if cfg.Server.CompileEndpointEnabled {
		var compile http.Handler = graphqlChain(cfg, nil, graphql.CompileHandler())
		if token := strings.TrimSpace(cfg.Server.CompileAuthToken); token != "" {
			auth, err := middleware.TokenAuthMiddleware(middleware.TokenAuthConfig{Token: token})
			if err != nil {
				return nil, err
			}
			compile = auth(compile)
		}
		mux.Handle(compilePath, compile)
		logger.Info("compile endpoint enabled", slog.String("path", compilePath))
	}

	if token := strings.TrimSpace(cfg.Server.AdminAuthToken); token != "" && reloader != nil {
		auth, err := middleware.TokenAuthMiddleware(middleware.TokenAuthConfig{Token: token, HeaderName: adminTokenHeader})
		if err != nil {
			return nil, err
		}
		mux.Handle(reloadPath, auth(reloadSchemaHandler(reloader)))
		logger.Info("schema reload endpoint enabled", slog.String("path", reloadPath))
	}

	mux.HandleFunc(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))

	if metricsEnabled {
		mux.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, graphqlPath, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})
	return mux, nil
}

// wrapHTTPHandler applies the outer middleware. The rate limiter runs first,
// then CORS, then HTTP tracing and request logging.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger, healthPath, metricsPath)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	handler = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	})(handler)

	limit := middleware.RateLimitConfig{
		Enabled: cfg.Server.RateLimitEnabled,
		RPS:     cfg.Server.RateLimitRPS,
		Burst:   cfg.Server.RateLimitBurst,
	}
	if cfg.Server.RateLimitPerRole && cfg.Server.Roles.Enabled {
		limit.RoleHeader = cfg.Server.Roles.Header
		limit.Roles = cfg.Server.Roles.AllowedRoles
	}
	return middleware.RateLimitMiddleware(limit)(handler)
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", graphqlPath, compilePath, healthPath, metricsPath:
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:              serverAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func healthHandler(db pinger, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Generic body; the cause is only logged.
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

// schemaReloader rebuilds the active schema snapshot on demand.
type schemaReloader interface {
	RefreshNow(ctx context.Context) error
}

func reloadSchemaHandler(reloader schemaReloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"status":"error","error":"reload requires POST"}`)
			return
		}

		reqLogger := logging.FromContext(r.Context())
		if err := reloader.RefreshNow(r.Context()); err != nil {
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","error":"schema reload failed"}`)
			return
		}
		reqLogger.Info("schema reloaded")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	}
}
