// Package pgtest provides isolated PostgreSQL databases for integration
// tests. PGGQL_TEST_DATABASE_URL points the tests at an existing server;
// otherwise a single container is started for the whole test binary.
package pgtest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"postgres-graphql/internal/sqlutil"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvDatabaseURL names the variable with an admin DSN for an existing server.
const EnvDatabaseURL = "PGGQL_TEST_DATABASE_URL"

const image = "postgres:17-alpine"

var (
	serverOnce sync.Once
	serverDSN  string
	serverErr  error
)

// TestDB is a database created for one test and dropped afterwards.
type TestDB struct {
	DB   *sql.DB
	DSN  string
	Name string

	adminDSN string
}

// adminDSN returns the DSN of the server, starting the container on first
// use. The container is reaped by testcontainers when the binary exits.
func adminDSN() (string, error) {
	serverOnce.Do(func() {
		if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); dsn != "" {
			serverDSN = dsn
			return
		}

		ctx := context.Background()
		container, err := postgres.Run(ctx, image,
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			serverErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}
		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			serverErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}
		serverDSN = dsn
	})
	return serverDSN, serverErr
}

// New creates an empty database and registers its cleanup. It skips in
// short mode.
func New(tb testing.TB) *TestDB {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping PostgreSQL integration test in short mode")
	}

	admin, err := adminDSN()
	require.NoError(tb, err)

	name := uniqueName()
	exec(tb, admin, "CREATE DATABASE "+sqlutil.QuoteIdentifier(name))

	dsn, err := withDatabase(admin, name)
	require.NoError(tb, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(tb, err)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	require.NoError(tb, db.Ping(), "failed to ping test database")

	testDB := &TestDB{DB: db, DSN: dsn, Name: name, adminDSN: admin}
	tb.Cleanup(func() { testDB.teardown(tb) })
	return testDB
}

// Exec runs statements against the test database and fails the test on error.
func (d *TestDB) Exec(tb testing.TB, statements ...string) {
	tb.Helper()
	for _, stmt := range statements {
		_, err := d.DB.Exec(stmt)
		require.NoError(tb, err, "statement failed: %s", stmt)
	}
}

// CreateRole creates a NOLOGIN role that the connecting user may SET ROLE
// to. Roles are cluster-wide, so the cleanup drops it again before the
// database goes away.
func (d *TestDB) CreateRole(tb testing.TB, role string) {
	tb.Helper()
	quoted := sqlutil.QuoteIdentifier(role)
	d.Exec(tb,
		"CREATE ROLE "+quoted+" NOLOGIN",
		"GRANT "+quoted+" TO CURRENT_USER",
		"GRANT USAGE ON SCHEMA public TO "+quoted,
	)
	tb.Cleanup(func() {
		_, _ = d.DB.Exec("DROP OWNED BY " + quoted)
		db, err := sql.Open("pgx", d.adminDSN)
		if err != nil {
			return
		}
		defer func() { _ = db.Close() }()
		_, _ = db.Exec("DROP ROLE IF EXISTS " + quoted)
	})
}

func (d *TestDB) teardown(tb testing.TB) {
	if err := d.DB.Close(); err != nil {
		tb.Logf("Warning: failed to close test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := sql.Open("pgx", d.adminDSN)
	if err != nil {
		tb.Logf("Warning: failed to connect for cleanup: %v", err)
		return
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+sqlutil.QuoteIdentifier(d.Name)+" WITH (FORCE)"); err != nil {
		tb.Logf("Warning: failed to drop test database %s: %v", d.Name, err)
	}
}

func exec(tb testing.TB, dsn, stmt string) {
	tb.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(tb, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(stmt)
	require.NoError(tb, err, "statement failed: %s", stmt)
}

func uniqueName() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "pggql_test_" + hex.EncodeToString(b)
}

// withDatabase swaps the database of a URL-style DSN.
func withDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse admin DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("%s must be a postgres:// URL", EnvDatabaseURL)
	}
	u.Path = "/" + name
	return u.String(), nil
}
