package planner

import (
	"strconv"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/sqltype"
)

const (
	outerAlias  = "outer"
	lookupAlias = "lookup_keys"
	foundColumn = "__found"
	indexColumn = "__idx"
)

// link correlates a nested statement with the parent row it belongs to.
type link struct {
	relation *introspection.Relation
	alias    string
}

func (c *compiler) linkCondition(lk *link, alias string) sqlir.Condition {
	if lk == nil {
		return sqlir.NoCondition{}
	}
	return c.joinCondition(lk.relation, lk.alias, alias)
}

// innerColumns lists the columns the innermost scan must fetch: selected
// columns, relation columns nested statements correlate on, and extras.
func (c *compiler) innerColumns(plan *SelectionPlan) []introspection.ColumnID {
	var cols []introspection.ColumnID
	seen := make(map[introspection.ColumnID]bool)
	add := func(ids ...introspection.ColumnID) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				cols = append(cols, id)
			}
		}
	}
	for _, sel := range plan.Selections {
		switch s := sel.(type) {
		case ColumnSelection:
			add(s.Column)
		case JoinUnique:
			add(c.schema.Relation(s.Relation).Columns...)
		case JoinMany:
			add(c.schema.Relation(s.Relation).Columns...)
		}
	}
	add(plan.Extra...)
	return cols
}

// innerScan selects the needed columns of plan's table aliased as alias.
func (c *compiler) innerScan(plan *SelectionPlan, alias string, where sqlir.Condition) *sqlir.Select {
	t := c.schema.Table(plan.Table)
	sel := &sqlir.Select{
		From:  sqlir.Table{Schema: t.Schema, Name: t.DatabaseName, Alias: alias},
		Where: where,
	}
	for _, cid := range c.innerColumns(plan) {
		sel.Column(sqlir.Col(alias, c.schema.Column(cid).DatabaseName))
	}
	if len(sel.Columns) == 0 {
		sel.Column(sqlir.As(sqlir.True, foundColumn))
	}
	return sel
}

// projectColumn renders a column value in its client representation.
// Integers wider than 53 bits and decimals travel as strings so JSON
// consumers do not lose precision.
func (c *compiler) projectColumn(alias string, col *introspection.Column) sqlir.Expression {
	expr := sqlir.Col(alias, col.DatabaseName)
	switch col.Category {
	case sqltype.BigInt, sqltype.Numeric:
		return sqlir.CastAs(expr, sqlir.TypeName{Name: "text", Array: col.IsArray()})
	case sqltype.Bytes:
		if !col.IsArray() {
			return sqlir.Call("encode", expr, sqlir.Literal("base64"))
		}
		elements := c.nextAlias(col.Table) + "_bytes"
		return sqlir.Subquery{Select: &sqlir.Select{
			Columns: []sqlir.Expression{sqlir.Func{
				Name:    "array_agg",
				Args:    []sqlir.Expression{sqlir.Call("encode", sqlir.Col(elements, "value"), sqlir.Literal("base64"))},
				OrderBy: []sqlir.Ordering{{Expr: sqlir.Col(elements, "ordinality"), Order: sqlir.Asc}},
			}},
			From: sqlir.FuncTable{
				Func:           sqlir.Unnest(expr),
				Alias:          elements,
				Columns:        []string{"value", "ordinality"},
				WithOrdinality: true,
			},
		}}
	}
	return expr
}

// rowPairs builds the response object members of one row of plan aliased as
// alias, and the lateral joins computing its nested relations.
func (c *compiler) rowPairs(plan *SelectionPlan, alias string, path []string) ([]sqlir.Pair, []sqlir.Join, error) {
	var (
		pairs []sqlir.Pair
		joins []sqlir.Join
	)
	for _, sel := range plan.Selections {
		switch s := sel.(type) {
		case ColumnSelection:
			pairs = append(pairs, sqlir.Pair{Key: s.ResponseKey, Value: c.projectColumn(alias, c.schema.Column(s.Column))})

		case TypenameSelection:
			pairs = append(pairs, sqlir.Pair{Key: s.ResponseKey, Value: sqlir.Literal(s.TypeName)})

		case JoinUnique:
			rel := c.schema.Relation(s.Relation)
			nested := c.nextAlias(rel.Referenced)
			stmt, err := c.uniqueStatement(s.Plan, sqlir.NoCondition{}, &link{relation: rel, alias: alias}, nested, appendPath(path, s.ResponseKey))
			if err != nil {
				return nil, nil, err
			}
			joins = append(joins, lateral(stmt, nested))
			pairs = append(pairs, sqlir.Pair{Key: s.ResponseKey, Value: sqlir.Col(nested, jsonColumn)})

		case JoinMany:
			rel := c.schema.Relation(s.Relation)
			nested := c.nextAlias(rel.Referenced)
			fieldPath := appendPath(path, s.ResponseKey)
			filter, err := c.compileFilter(rel.Referenced, nested, s.Filter, appendPath(fieldPath, "filter"))
			if err != nil {
				return nil, nil, err
			}
			stmt, err := c.collectionStatement(s.Plan, s.Args, filter, &link{relation: rel, alias: alias}, nested, fieldPath)
			if err != nil {
				return nil, nil, err
			}
			joins = append(joins, lateral(stmt, nested))
			pairs = append(pairs, sqlir.Pair{Key: s.ResponseKey, Value: sqlir.Col(nested, jsonColumn)})
		}
	}
	return pairs, joins, nil
}

func lateral(stmt *sqlir.Select, alias string) sqlir.Join {
	return sqlir.Join{
		Kind:   sqlir.LeftJoin,
		Source: sqlir.Derived{Select: stmt, Alias: alias, Lateral: true},
	}
}

// uniqueStatement builds the statement returning at most one row as a JSON
// object:
//
//	SELECT row_to_json("outer") AS "json" FROM (
//	  SELECT <member> AS "<key>", ... FROM (<inner scan LIMIT 1>) AS alias
//	  LEFT JOIN LATERAL (...) AS nested ON TRUE
//	) AS "outer"
func (c *compiler) uniqueStatement(plan *SelectionPlan, filter sqlir.Condition, lk *link, alias string, path []string) (*sqlir.Select, error) {
	inner := c.innerScan(plan, alias, sqlir.And(filter, c.linkCondition(lk, alias))).SetLimit(1)

	pairs, joins, err := c.rowPairs(plan, alias, path)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, argumentErrorf(path, "selection on %s must select at least one field", c.schema.Table(plan.Table).ClientName)
	}

	middle := &sqlir.Select{
		From:  sqlir.Derived{Select: inner, Alias: alias},
		Joins: joins,
	}
	for _, p := range pairs {
		middle.Column(sqlir.As(p.Value, p.Key))
	}

	return &sqlir.Select{
		Columns: []sqlir.Expression{sqlir.As(sqlir.RowToJSON(outerAlias), jsonColumn)},
		From:    sqlir.Derived{Select: middle, Alias: outerAlias},
	}, nil
}

// collectionStatement builds the statement returning one connection object:
// the limited scan in inner order, the node objects with their ordering
// values, and the edges aggregated in outer order with page info.
func (c *compiler) collectionStatement(plan *SelectionPlan, args *CollectionArgs, filter sqlir.Condition, lk *link, alias string, path []string) (*sqlir.Select, error) {
	seek, err := c.seekCondition(alias, args, path)
	if err != nil {
		return nil, err
	}
	inner := c.innerScan(plan, alias, sqlir.And(filter, c.linkCondition(lk, alias), seek))
	for _, o := range args.Orders {
		inner.OrderBy = append(inner.OrderBy, sqlir.Ordering{
			Expr:  sqlir.Col(alias, c.schema.Column(o.Column).DatabaseName),
			Order: o.Inner,
		})
	}
	size := args.PageSize()
	inner.SetLimit(size + 1)

	pairs, joins, err := c.rowPairs(plan, alias, path)
	if err != nil {
		return nil, err
	}
	middle := &sqlir.Select{
		Columns: []sqlir.Expression{sqlir.As(sqlir.JSONBBuildObject(pairs...), jsonColumn)},
		From:    sqlir.Derived{Select: inner, Alias: alias},
		Joins:   joins,
	}

	cursorValues := make([]sqlir.Expression, len(args.Orders))
	outerOrder := make([]sqlir.Ordering, len(args.Orders))
	for i, o := range args.Orders {
		middle.Column(sqlir.As(sqlir.Col(alias, c.schema.Column(o.Column).DatabaseName), o.Alias))
		cursorValues[i] = sqlir.Col(outerAlias, o.Alias)
		outerOrder[i] = sqlir.Ordering{Expr: sqlir.Col(outerAlias, o.Alias), Order: o.Outer}
	}

	edge := sqlir.JSONBBuildObject(
		sqlir.Pair{Key: KeyNode, Value: sqlir.Col(outerAlias, jsonColumn)},
		sqlir.Pair{Key: KeyCursor, Value: sqlir.JSONBuildArray(cursorValues...)},
	)
	edges := sqlir.Coalesce(sqlir.JSONBAgg(edge, outerOrder...), sqlir.EmptyJSONBArray())

	hasMore := sqlir.Binary{Left: sqlir.CountStar(), Op: ">", Right: sqlir.Raw{SQL: strconv.FormatUint(size, 10)}}
	var hasNext, hasPrevious sqlir.Expression
	if args.Backward() {
		hasNext, hasPrevious = boolLiteral(args.Before != nil), hasMore
	} else {
		hasNext, hasPrevious = hasMore, boolLiteral(args.After != nil)
	}
	pageInfo := sqlir.JSONBuildObject(
		sqlir.Pair{Key: KeyHasNextPage, Value: hasNext},
		sqlir.Pair{Key: KeyHasPreviousPage, Value: hasPrevious},
	)

	return &sqlir.Select{
		Columns: []sqlir.Expression{sqlir.As(sqlir.JSONBuildObject(
			sqlir.Pair{Key: KeyEdges, Value: edges},
			sqlir.Pair{Key: KeyPageInfo, Value: pageInfo},
		), jsonColumn)},
		From: sqlir.Derived{Select: middle, Alias: outerAlias},
	}, nil
}

func boolLiteral(v bool) sqlir.Expression {
	if v {
		return sqlir.True
	}
	return sqlir.False
}

// lookupStatement builds the batched lookup over key. keys holds one value
// per key column for every requested entity, in request order. The result
// is a JSON array of the same length with null where no row matched.
func (c *compiler) lookupStatement(plan *SelectionPlan, key *introspection.Key, keys [][]any, alias string, path []string) (*sqlir.Select, error) {
	if len(keys) == 0 {
		return &sqlir.Select{Columns: []sqlir.Expression{sqlir.As(sqlir.EmptyJSONBArray(), jsonColumn)}}, nil
	}

	arrays := make([]sqlir.Expression, len(key.Columns))
	names := make([]string, 0, len(key.Columns)+1)
	matches := make([]sqlir.Condition, len(key.Columns))
	for i, cid := range key.Columns {
		col := c.schema.Column(cid)
		if col.IsArray() {
			return nil, argumentErrorf(path, "key %s cannot be used for batched lookups", key.ClientName)
		}
		items := make(sqlir.Array, len(keys))
		for j, entry := range keys {
			v, err := c.typedColumnValue(col, entry[i], clientMode, appendPath(path, strconv.Itoa(j)))
			if err != nil {
				return nil, err
			}
			items[j] = v
		}
		arrays[i] = items
		names = append(names, col.DatabaseName)
		matches[i] = sqlir.Compare{
			Left:  sqlir.Col(alias, col.DatabaseName),
			Op:    sqlir.IsNotDistinctFrom,
			Right: sqlir.Col(lookupAlias, col.DatabaseName),
		}
	}
	names = append(names, indexColumn)

	inner := c.innerScan(plan, alias, sqlir.And(matches...)).SetLimit(1)
	if len(c.innerColumns(plan)) > 0 {
		inner.Columns = append([]sqlir.Expression{sqlir.As(sqlir.True, foundColumn)}, inner.Columns...)
	}

	pairs, joins, err := c.rowPairs(plan, alias, path)
	if err != nil {
		return nil, err
	}
	row := sqlir.Case{
		Whens: []sqlir.When{{Cond: sqlir.IsNull(sqlir.Col(alias, foundColumn)), Then: sqlir.JSONBNull()}},
		Else:  sqlir.JSONBBuildObject(pairs...),
	}

	middle := &sqlir.Select{
		Columns: []sqlir.Expression{
			sqlir.As(row, jsonColumn),
			sqlir.As(sqlir.Col(lookupAlias, indexColumn), indexColumn),
		},
		From: sqlir.FuncTable{
			Func:           sqlir.Unnest(arrays...),
			Alias:          lookupAlias,
			Columns:        names,
			WithOrdinality: true,
		},
		Joins: append([]sqlir.Join{lateral(inner, alias)}, joins...),
	}

	aggregate := sqlir.JSONBAgg(sqlir.Col(outerAlias, jsonColumn), sqlir.Ordering{Expr: sqlir.Col(outerAlias, indexColumn), Order: sqlir.Asc})
	return &sqlir.Select{
		Columns: []sqlir.Expression{sqlir.As(sqlir.Coalesce(aggregate, sqlir.EmptyJSONBArray()), jsonColumn)},
		From:    sqlir.Derived{Select: middle, Alias: outerAlias},
	}, nil
}
