package sqlir

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Render turns a statement into PostgreSQL text with $n placeholders and the
// matching bound arguments.
func Render(stmt sq.Sqlizer) (string, []any, error) {
	if stmt == nil {
		return "", nil, fmt.Errorf("render: nil statement")
	}
	query, args, err := stmt.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("render: %w", err)
	}
	query, err = sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return "", nil, fmt.Errorf("render placeholders: %w", err)
	}
	if args == nil {
		args = []any{}
	}
	return query, args, nil
}
