package dbexec

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execution error codes reported in GraphQL error extensions.
const (
	CodeUniqueViolation     = "UNIQUE_VIOLATION"
	CodeForeignKeyViolation = "FOREIGN_KEY_VIOLATION"
	CodeNotNullViolation    = "NOT_NULL_VIOLATION"
	CodeCheckViolation      = "CHECK_VIOLATION"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeStatementTimeout    = "STATEMENT_TIMEOUT"
	CodeExecutionFailed     = "EXECUTION_FAILED"
)

var sqlStateCodes = map[string]string{
	"23505": CodeUniqueViolation,
	"23503": CodeForeignKeyViolation,
	"23502": CodeNotNullViolation,
	"23514": CodeCheckViolation,
	"42501": CodePermissionDenied,
	"57014": CodeStatementTimeout,
}

// ExecutionError is a database failure classified for GraphQL clients.
// Message is safe to return; the underlying error is kept for logs.
type ExecutionError struct {
	Code       string
	SQLState   string
	Constraint string
	Message    string
	Err        error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Extensions returns GraphQL error extensions.
func (e *ExecutionError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if e.SQLState != "" {
		ext["sqlState"] = e.SQLState
	}
	if e.Constraint != "" {
		ext["constraint"] = e.Constraint
	}
	return ext
}

// Classify maps driver errors to ExecutionError. Constraint violations keep
// the server's message; anything unrecognized gets a generic one.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ExecutionError{Code: CodeStatementTimeout, Message: "statement cancelled or timed out", Err: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &ExecutionError{Code: CodeExecutionFailed, Message: "statement execution failed", Err: err}
	}
	code, ok := sqlStateCodes[pgErr.Code]
	if !ok {
		return &ExecutionError{Code: CodeExecutionFailed, SQLState: pgErr.Code, Message: "statement execution failed", Err: err}
	}
	out := &ExecutionError{
		Code:       code,
		SQLState:   pgErr.Code,
		Constraint: pgErr.ConstraintName,
		Message:    pgErr.Message,
		Err:        err,
	}
	switch code {
	case CodePermissionDenied:
		out.Message = "permission denied"
	case CodeStatementTimeout:
		out.Message = "statement cancelled or timed out"
	}
	return out
}
