// Package dbexec runs compiled statements against PostgreSQL, either as the
// login user or under the database role chosen for the request.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is what a statement runs on: the pool, a pinned connection or a
// transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryExecutor scopes statements to a request.
type QueryExecutor interface {
	// Run calls fn with a Querier prepared for ctx and releases it when fn
	// returns.
	Run(ctx context.Context, fn func(Querier) error) error
}

// PoolExecutor runs statements on the pool as the login user.
type PoolExecutor struct {
	db *sql.DB
}

func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) Run(_ context.Context, fn func(Querier) error) error {
	if e.db == nil {
		return sql.ErrConnDone
	}
	return fn(e.db)
}

// ErrNoResult is returned when a compiled statement produced no row.
var ErrNoResult = errors.New("statement returned no rows")

// QueryJSON runs a compiled statement and returns its single JSON column.
// A NULL column yields nil. Database errors are classified with Classify.
func QueryJSON(ctx context.Context, exec QueryExecutor, query string, args ...any) ([]byte, error) {
	var raw []byte
	err := exec.Run(ctx, func(q Querier) error {
		return q.QueryRowContext(ctx, query, args...).Scan(&raw)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNoResult
	case err != nil:
		return nil, Classify(err)
	}
	return raw, nil
}
