package dbexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"postgres-graphql/internal/sqlutil"
)

// RoleExecutorConfig controls role execution behavior.
type RoleExecutorConfig struct {
	DB          *sql.DB
	RoleFromCtx func(context.Context) (string, bool)
	// AllowedRoles, when non-empty, is checked again before SET ROLE.
	AllowedRoles []string
}

// RoleExecutor runs each statement under the request's database role, so
// the grants and row level security policies of that role apply. Requests
// without a role run on the pool as the login user.
type RoleExecutor struct {
	db          *sql.DB
	roleFromCtx func(context.Context) (string, bool)
	allowed     map[string]bool
}

func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	e := &RoleExecutor{db: cfg.DB, roleFromCtx: cfg.RoleFromCtx}
	if len(cfg.AllowedRoles) > 0 {
		e.allowed = make(map[string]bool, len(cfg.AllowedRoles))
		for _, role := range cfg.AllowedRoles {
			e.allowed[role] = true
		}
	}
	return e
}

// roleFor returns the role to assume, or "" to run as the login user.
func (e *RoleExecutor) roleFor(ctx context.Context) (string, error) {
	if e.roleFromCtx == nil {
		return "", nil
	}
	role, ok := e.roleFromCtx(ctx)
	if !ok || role == "" {
		return "", nil
	}
	if e.allowed != nil && !e.allowed[role] {
		return "", &ExecutionError{Code: CodePermissionDenied, Message: fmt.Sprintf("role not allowed: %s", role)}
	}
	return role, nil
}

// Run pins a connection, switches it to the request's role and resets it
// before the connection goes back to the pool. A connection whose reset
// fails is discarded rather than reused under the wrong role.
func (e *RoleExecutor) Run(ctx context.Context, fn func(Querier) error) (err error) {
	if e.db == nil {
		return sql.ErrConnDone
	}
	role, err := e.roleFor(ctx)
	if err != nil {
		return err
	}
	if role == "" {
		return fn(e.db)
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if _, resetErr := conn.ExecContext(context.WithoutCancel(ctx), "RESET ROLE"); resetErr != nil {
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			err = errors.Join(err, fmt.Errorf("reset role: %w", resetErr))
		}
		_ = conn.Close()
	}()

	// SET ROLE takes no bind parameters, so the name is quoted instead.
	if _, err := conn.ExecContext(ctx, "SET ROLE "+sqlutil.QuoteIdentifier(role)); err != nil {
		return fmt.Errorf("set role %s: %w", role, err)
	}
	return fn(conn)
}
