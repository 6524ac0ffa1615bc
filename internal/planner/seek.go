package planner

import (
	"postgres-graphql/internal/cursor"
	"postgres-graphql/internal/sqlir"
)

// seekCondition restricts the scan aliased as alias to rows strictly after
// or strictly before the cursor position, in the requested ordering with
// nulls first. Columns are compared lexicographically:
//
//	(c0 > v0) OR (c0 = v0 AND c1 > v1) OR ...
func (c *compiler) seekCondition(alias string, args *CollectionArgs, path []string) (sqlir.Condition, error) {
	var (
		position *cursor.Cursor
		after    bool
	)
	switch {
	case args.After != nil:
		position, after = args.After, true
		path = appendPath(path, "after")
	case args.Before != nil:
		position = args.Before
		path = appendPath(path, "before")
	default:
		return sqlir.NoCondition{}, nil
	}

	values := make([]sqlir.Expression, len(args.Orders))
	for i, o := range args.Orders {
		raw := position.Values[i]
		if raw == nil {
			continue
		}
		v, err := c.typedColumnValue(c.schema.Column(o.Column), raw, cursorMode, path)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	branches := make([]sqlir.Condition, 0, len(args.Orders))
	for i, o := range args.Orders {
		conds := make([]sqlir.Condition, 0, i+1)
		for j := 0; j < i; j++ {
			conds = append(conds, c.seekEqual(alias, args.Orders[j], values[j]))
		}
		conds = append(conds, c.seekStrict(alias, o, values[i], after))
		branches = append(branches, sqlir.And(conds...))
	}
	return sqlir.Or(branches...), nil
}

func (c *compiler) seekEqual(alias string, o OrderEntry, value sqlir.Expression) sqlir.Condition {
	col := sqlir.Col(alias, c.schema.Column(o.Column).DatabaseName)
	if value == nil {
		return sqlir.IsNull(col)
	}
	return sqlir.Eq(col, value)
}

// seekStrict is the strict comparison of one ordering column. NULL sorts
// before every value in both directions.
func (c *compiler) seekStrict(alias string, o OrderEntry, value sqlir.Expression, after bool) sqlir.Condition {
	col := sqlir.Col(alias, c.schema.Column(o.Column).DatabaseName)
	descending := o.Direction == DirectionDesc

	if after {
		if value == nil {
			return sqlir.IsNotNull(col)
		}
		op := sqlir.GreaterThan
		if descending {
			op = sqlir.LessThan
		}
		return sqlir.Compare{Left: col, Op: op, Right: value}
	}

	if value == nil {
		return sqlir.NegativeCondition{}
	}
	op := sqlir.LessThan
	if descending {
		op = sqlir.GreaterThan
	}
	return sqlir.Or(sqlir.IsNull(col), sqlir.Compare{Left: col, Op: op, Right: value})
}
