package planner

import (
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql/language/ast"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/sqlutil"
)

const (
	mutatedCTE = "mutated"

	payloadReturning = "returning"
	payloadRowCount  = "rowCount"
)

// mutationPayload is the compiled selection of a mutation payload object.
type mutationPayload struct {
	typeName  string
	fields    []ConnectionField
	returning *SelectionPlan
}

// compileMutationPayload collects the payload fields selected on a mutation
// root field. All returning selections share one merged row plan.
func (c *compiler) compileMutationPayload(table introspection.TableID, set *ast.SelectionSet, typeName string, path []string) (*mutationPayload, error) {
	fields, err := c.collectFields(set, typeName, path)
	if err != nil {
		return nil, err
	}
	payload := &mutationPayload{typeName: typeName}
	returning := &ast.SelectionSet{}
	for _, field := range fields {
		name := field.Name.Value
		switch name {
		case payloadReturning:
			if field.SelectionSet != nil {
				returning.Selections = append(returning.Selections, field.SelectionSet.Selections...)
			}
		case payloadRowCount, KeyTypename:
		default:
			return nil, schemaErrorf(appendPath(path, responseKey(field)), "field %s not found on %s", name, typeName)
		}
		payload.fields = append(payload.fields, ConnectionField{Key: responseKey(field), Name: name})
	}
	payload.returning, err = c.compileSelection(table, returning, nil, appendPath(path, payloadReturning))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// mutationStatement wraps a data-modifying statement returning every column
// of the affected rows into the payload JSON object.
//
//	WITH "mutated" AS (<statement> RETURNING *)
//	SELECT jsonb_build_object('returning', ..., 'rowCount', count(*)) AS "json"
//	FROM (SELECT <row json>, <key columns> FROM "mutated" AS alias ...) AS "outer"
func (c *compiler) mutationStatement(statement sq.Sqlizer, payload *mutationPayload, many bool, path []string) (*sqlir.Select, error) {
	plan := payload.returning
	alias := c.nextAlias(plan.Table)

	pairs, joins, err := c.rowPairs(plan, alias, appendPath(path, payloadReturning))
	if err != nil {
		return nil, err
	}
	middle := &sqlir.Select{
		Columns: []sqlir.Expression{sqlir.As(sqlir.JSONBBuildObject(pairs...), jsonColumn)},
		From:    sqlir.Table{Name: mutatedCTE, Alias: alias},
		Joins:   joins,
	}

	var order []sqlir.Ordering
	if kid, ok := c.schema.ImplicitOrderingKey(plan.Table); ok {
		for _, cid := range c.schema.Key(kid).Columns {
			col := c.schema.Column(cid)
			keyAlias := c.schema.Table(plan.Table).DatabaseName + "_" + col.DatabaseName
			middle.Column(sqlir.As(sqlir.Col(alias, col.DatabaseName), keyAlias))
			order = append(order, sqlir.Ordering{Expr: sqlir.Col(outerAlias, keyAlias), Order: sqlir.AscNullsFirst})
		}
	}

	rows := sqlir.JSONBAgg(sqlir.Col(outerAlias, jsonColumn), order...)
	var returning sqlir.Expression = sqlir.JSONElement{Expr: rows, Index: 0}
	if many {
		returning = sqlir.Coalesce(rows, sqlir.EmptyJSONBArray())
	}

	var result []sqlir.Pair
	for _, f := range payload.fields {
		switch f.Name {
		case payloadReturning:
			result = append(result, sqlir.Pair{Key: f.Key, Value: returning})
		case payloadRowCount:
			result = append(result, sqlir.Pair{Key: f.Key, Value: sqlir.CountStar()})
		case KeyTypename:
			result = append(result, sqlir.Pair{Key: f.Key, Value: sqlir.Literal(payload.typeName)})
		}
	}

	return &sqlir.Select{
		With:    []sqlir.CTE{{Name: mutatedCTE, Statement: statement}},
		Columns: []sqlir.Expression{sqlir.As(sqlir.JSONBBuildObject(result...), jsonColumn)},
		From:    sqlir.Derived{Select: middle, Alias: outerAlias},
	}, nil
}

func qualifiedTable(t *introspection.Table) string {
	return sqlutil.BuilderQualified(t.Schema, t.DatabaseName)
}

// insertStatement builds INSERT ... RETURNING * for one or more rows. Every
// row must assign the same columns.
func (c *compiler) insertStatement(table introspection.TableID, rows [][]ColumnValue, path []string) (sq.Sqlizer, error) {
	t := c.schema.Table(table)
	if len(rows) == 0 {
		return nil, argumentErrorf(path, "at least one input is required")
	}
	columns := rows[0]
	for i, row := range rows[1:] {
		if !sameColumns(columns, row) {
			return nil, argumentErrorf(appendPath(path, strconv.Itoa(i+1)), "all inputs must assign the same columns")
		}
	}

	if len(columns) == 0 {
		if len(rows) == 1 {
			return sq.Expr("INSERT INTO " + qualifiedTable(t) + " DEFAULT VALUES RETURNING *"), nil
		}
		// Several rows of defaults need one explicit DEFAULT per row.
		first := c.schema.Column(t.ColumnIDs[0])
		builder := sq.Insert(qualifiedTable(t)).Columns(sqlutil.BuilderIdent(first.DatabaseName))
		for range rows {
			builder = builder.Values(sq.Expr("DEFAULT"))
		}
		return builder.Suffix("RETURNING *"), nil
	}

	names := make([]string, len(columns))
	for i, cv := range columns {
		names[i] = sqlutil.BuilderIdent(c.schema.Column(cv.Column).DatabaseName)
	}
	builder := sq.Insert(qualifiedTable(t)).Columns(names...)
	for _, row := range rows {
		values := make([]interface{}, len(row))
		for i, cv := range row {
			values[i] = cv.Expr
		}
		builder = builder.Values(values...)
	}
	return builder.Suffix("RETURNING *"), nil
}

func sameColumns(a, b []ColumnValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Column != b[i].Column {
			return false
		}
	}
	return true
}

// rowFilter restricts an update or delete. With single set, at most one row
// matching where is affected.
func (c *compiler) rowFilter(t *introspection.Table, where sqlir.Condition, single bool, subAlias string) sqlir.Condition {
	if !single || t.IsView {
		return where
	}
	return sqlir.Compare{
		Left: sqlir.Col(t.DatabaseName, "ctid"),
		Op:   sqlir.In,
		Right: sqlir.Subquery{Select: &sqlir.Select{
			Columns: []sqlir.Expression{sqlir.Col(subAlias, "ctid")},
			From:    sqlir.Table{Schema: t.Schema, Name: t.DatabaseName, Alias: subAlias},
			Where:   where,
			Limit:   uint64Ptr(1),
		}},
	}
}

func uint64Ptr(n uint64) *uint64 {
	return &n
}

// updateStatement builds UPDATE ... SET ... WHERE ... RETURNING *.
func (c *compiler) updateStatement(table introspection.TableID, updates []ColumnValue, where sqlir.Condition, path []string) (sq.Sqlizer, error) {
	if len(updates) == 0 {
		return nil, argumentErrorf(appendPath(path, "input"), "update input must assign at least one column")
	}
	builder := sq.Update(qualifiedTable(c.schema.Table(table)))
	for _, u := range updates {
		builder = builder.Set(sqlutil.BuilderIdent(c.schema.Column(u.Column).DatabaseName), u.Expr)
	}
	return builder.Where(where).Suffix("RETURNING *"), nil
}

// deleteStatement builds DELETE ... WHERE ... RETURNING *.
func (c *compiler) deleteStatement(table introspection.TableID, where sqlir.Condition) sq.Sqlizer {
	return sq.Delete(qualifiedTable(c.schema.Table(table))).Where(where).Suffix("RETURNING *")
}
