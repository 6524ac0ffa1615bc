package dbexec

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// OpenConfig controls driver instrumentation.
type OpenConfig struct {
	DSN          string
	Tracing      bool
	Metrics      bool
	SQLCommenter bool
}

// StatsRegistration unregisters connection pool metrics.
type StatsRegistration interface {
	Unregister() error
}

// Open opens a PostgreSQL handle through pgx. When tracing or metrics are
// enabled the driver is wrapped by otelsql; the returned registration is
// non-nil only when pool metrics were registered.
func Open(cfg OpenConfig) (*sql.DB, StatsRegistration, error) {
	if !cfg.Tracing && !cfg.Metrics {
		db, err := sql.Open(DriverName, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	}
	if cfg.Tracing {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
			OmitRows:       true,
		}))
		if cfg.SQLCommenter {
			opts = append(opts, otelsql.WithSQLCommenter(true))
		}
	}

	db, err := otelsql.Open(DriverName, cfg.DSN, opts...)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Metrics {
		return db, nil, nil
	}
	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("register db stats metrics: %w", err)
	}
	return db, reg, nil
}
