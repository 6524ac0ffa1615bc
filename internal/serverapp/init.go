package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/observability"
)

// bootstrap carries what earlier init steps produced to later ones. Every
// acquired resource registers its release on closers.
type bootstrap struct {
	cfg     *config.Config
	logger  *logging.Logger
	closers closerStack

	metrics        *observability.GraphQLMetrics
	metricsEnabled bool
	db             *sql.DB
	schemas        SchemaSource
	reloader       schemaReloader
	handler        http.Handler
	srv            *http.Server
}

// Init acquires every runtime resource in order. On failure, whatever was
// already acquired is released again. Init is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	done := a.initialized
	provider := a.loggerProvider
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b := &bootstrap{cfg: a.cfg, logger: a.logger}
	if provider != nil {
		b.closers.add("logger provider", func(ctx context.Context) error {
			return provider.Shutdown(ctx, a.logger.Logger)
		})
	}
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"telemetry", b.initTelemetry},
		{"database", b.initDatabase},
		{"schema", b.initSchema},
		{"http", b.initHTTP},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			_ = b.closers.closeAll(context.Background(), a.logger)
			return fmt.Errorf("init %s: %w", step.name, err)
		}
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.schemas = b.schemas
	a.handler = b.handler
	a.srv = b.srv
	a.closers = b.closers
	a.initialized = true
	return nil
}

func (b *bootstrap) initTelemetry(_ context.Context) error {
	meterProvider, metrics, err := initMetrics(b.cfg, b.logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if meterProvider != nil {
		b.metrics, b.metricsEnabled = metrics, true
		b.closers.add("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, b.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(b.cfg, b.logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if tracerProvider != nil {
		b.closers.add("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, b.logger.Logger)
		})
	}
	return nil
}

func (b *bootstrap) initDatabase(ctx context.Context) error {
	b.logger.Info("connecting to PostgreSQL",
		slog.String("target", b.cfg.Database.RedactedDSN()),
		slog.Any("schemas", b.cfg.Database.Schemas),
	)
	db, stats, err := connectDB(b.cfg, b.logger)
	if err != nil {
		return err
	}
	b.db = db
	b.closers.add("database", func(context.Context) error {
		if stats != nil {
			if err := stats.Unregister(); err != nil {
				b.logger.Warn("failed to unregister pool metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})
	return waitForDatabase(ctx, b.cfg, b.logger, db)
}

func (b *bootstrap) initSchema(ctx context.Context) error {
	var refreshMetrics *observability.SchemaRefreshMetrics
	if b.metricsEnabled && b.cfg.Schema.RefreshMinInterval > 0 {
		var err error
		if refreshMetrics, err = observability.InitSchemaRefreshMetrics(b.logger.Logger); err != nil {
			return err
		}
	}

	schemas, refresher, err := buildSchemaSource(ctx, b.cfg, b.logger, b.db, refreshMetrics)
	if err != nil {
		return err
	}
	b.schemas = schemas
	if refresher == nil {
		return nil
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	refresher.Start(refreshCtx)
	b.closers.add("schema refresh", func(ctx context.Context) error {
		stop()
		return refresher.Wait(ctx)
	})
	b.reloader = refresher
	b.logger.Info("schema refresh enabled",
		slog.Duration("min_interval", b.cfg.Schema.RefreshMinInterval),
		slog.Duration("max_interval", b.cfg.Schema.RefreshMaxInterval),
	)
	return nil
}

func (b *bootstrap) initHTTP(context.Context) error {
	graphql := NewGraphQLHandler(b.schemas, buildQueryExecutor(b.cfg, b.db), b.metrics, compilerOptions(b.cfg))
	mux, err := buildRouter(b.cfg, b.logger, b.db, graphql, b.reloader, b.metricsEnabled)
	if err != nil {
		return err
	}
	b.handler = wrapHTTPHandler(b.cfg, b.logger, mux)

	srv := buildServer(b.cfg, b.handler, fmt.Sprintf(":%d", b.cfg.Server.Port))
	b.srv = srv
	b.closers.add("HTTP server", srv.Shutdown)
	return nil
}
