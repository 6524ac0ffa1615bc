package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"postgres-graphql/internal/sqlutil"
)

// Tx is a QueryExecutor bound to a single transaction.
type Tx interface {
	QueryExecutor
	Commit() error
	Rollback() error
}

// TxBeginner starts transactions. Mutation operations with several root
// fields run all of their statements in one transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Run(_ context.Context, fn func(Querier) error) error { return fn(t.tx) }
func (t sqlTx) Commit() error                                        { return Classify(t.tx.Commit()) }
func (t sqlTx) Rollback() error                                      { return t.tx.Rollback() }

func (e *PoolExecutor) BeginTx(ctx context.Context) (Tx, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return begin(ctx, e.db, "")
}

// BeginTx starts a transaction under the request's role. SET LOCAL ROLE ends
// with the transaction, so the connection needs no reset.
func (e *RoleExecutor) BeginTx(ctx context.Context) (Tx, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	role, err := e.roleFor(ctx)
	if err != nil {
		return nil, err
	}
	return begin(ctx, e.db, role)
}

func begin(ctx context.Context, db *sql.DB, role string) (Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify(err)
	}
	if role != "" {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+sqlutil.QuoteIdentifier(role)); err != nil {
			_ = tx.Rollback()
			return nil, Classify(fmt.Errorf("set local role %s: %w", role, err))
		}
	}
	return sqlTx{tx: tx}, nil
}
