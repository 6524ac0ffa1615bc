package planner

import (
	"sort"
	"strconv"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/sqltype"
)

// Filter combinators. Every other filter key names a column or a relation.
const (
	filterAll  = "ALL"
	filterAny  = "ANY"
	filterNone = "NONE"
)

// CompileFilter compiles a filter argument into a condition over the rows of
// table aliased as alias. Relation filters become correlated EXISTS
// subqueries.
func CompileFilter(schema *introspection.Schema, table introspection.TableID, alias string, filter map[string]any) (sqlir.Condition, error) {
	return newCompiler(schema, nil).compileFilter(table, alias, filter, nil)
}

// CompileUniqueFilter compiles a lookup argument naming exactly one key of
// table into an equality chain. Key columns the lookup does not mention must
// be NULL.
func CompileUniqueFilter(schema *introspection.Schema, table introspection.TableID, alias string, lookup map[string]any) (sqlir.Condition, error) {
	return newCompiler(schema, nil).compileUniqueFilter(table, alias, lookup, nil)
}

func (c *compiler) compileFilter(table introspection.TableID, alias string, filter map[string]any, path []string) (sqlir.Condition, error) {
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conds := make([]sqlir.Condition, 0, len(keys))
	for _, key := range keys {
		value := filter[key]
		keyPath := appendPath(path, key)

		switch key {
		case filterAll, filterAny, filterNone:
			items, _ := listArg(filter, key)
			nested := make([]sqlir.Condition, 0, len(items))
			for i, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, argumentErrorf(keyPath, "%s items must be filter objects", key)
				}
				cond, err := c.compileFilter(table, alias, obj, appendPath(keyPath, strconv.Itoa(i)))
				if err != nil {
					return nil, err
				}
				nested = append(nested, cond)
			}
			switch key {
			case filterAll:
				conds = append(conds, sqlir.And(nested...))
			case filterAny:
				conds = append(conds, sqlir.Or(nested...))
			default:
				conds = append(conds, sqlir.Not(sqlir.Or(nested...)))
			}
			continue
		}

		if cid, ok := c.schema.FindColumnByClientName(table, key); ok {
			cond, err := c.compileColumnFilter(c.schema.Column(cid), alias, value, keyPath)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
			continue
		}
		if rid, ok := c.schema.FindRelationByClientName(table, key); ok {
			cond, err := c.compileRelationFilter(c.schema.Relation(rid), alias, value, keyPath)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
			continue
		}
		return nil, schemaErrorf(keyPath, "column for input field %s not found on %s", key, c.schema.Table(table).ClientName)
	}
	return sqlir.And(conds...), nil
}

func (c *compiler) compileColumnFilter(col *introspection.Column, alias string, value any, path []string) (sqlir.Condition, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		return nil, argumentErrorf(path, "filter for %s must be an operator object", col.ClientName)
	}
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	left := sqlir.Col(alias, col.DatabaseName)
	conds := make([]sqlir.Condition, 0, len(names))
	for _, name := range names {
		operand := ops[name]
		opPath := appendPath(path, name)

		switch name {
		case "eq", "ne":
			if operand == nil {
				if name == "eq" {
					conds = append(conds, sqlir.IsNull(left))
				} else {
					conds = append(conds, sqlir.IsNotNull(left))
				}
				continue
			}
			right, err := c.columnValue(col, operand, clientMode, opPath)
			if err != nil {
				return nil, err
			}
			op := sqlir.Equals
			if name == "ne" {
				op = sqlir.NotEquals
			}
			conds = append(conds, sqlir.Compare{Left: left, Op: op, Right: right})

		case "gt", "lt", "gte", "lte":
			if operand == nil {
				return nil, argumentErrorf(opPath, "%s does not accept null", name)
			}
			right, err := c.columnValue(col, operand, clientMode, opPath)
			if err != nil {
				return nil, err
			}
			conds = append(conds, sqlir.Compare{Left: left, Op: rangeOps[name], Right: right})

		case "in", "nin":
			if col.IsArray() {
				return nil, argumentErrorf(opPath, "%s is not supported on array column %s", name, col.ClientName)
			}
			items, ok := operand.([]any)
			if !ok {
				return nil, argumentErrorf(opPath, "%s expects a list", name)
			}
			if len(items) == 0 {
				if name == "in" {
					conds = append(conds, sqlir.NegativeCondition{})
				} else {
					conds = append(conds, sqlir.NoCondition{})
				}
				continue
			}
			right, err := c.elementArray(col, items, clientMode, opPath)
			if err != nil {
				return nil, err
			}
			op := sqlir.Any
			if name == "nin" {
				op = sqlir.All
			}
			conds = append(conds, sqlir.Compare{Left: left, Op: op, Right: right})

		case "contains", "contained", "overlaps":
			cond, err := c.containmentFilter(col, left, name, operand, opPath)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)

		case "like":
			s, ok := operand.(string)
			if !ok || col.Category != sqltype.Text || col.IsArray() {
				return nil, argumentErrorf(opPath, "like expects a string pattern on a text column")
			}
			conds = append(conds, sqlir.Compare{Left: left, Op: sqlir.Like, Right: sqlir.Value(s)})

		case "not":
			nested, err := c.compileColumnFilter(col, alias, operand, opPath)
			if err != nil {
				return nil, err
			}
			conds = append(conds, sqlir.Not(nested))

		default:
			return nil, argumentErrorf(opPath, "unknown filter operator %s", name)
		}
	}
	return sqlir.And(conds...), nil
}

var rangeOps = map[string]sqlir.CompareOp{
	"gt":  sqlir.GreaterThan,
	"lt":  sqlir.LessThan,
	"gte": sqlir.GreaterThanOrEquals,
	"lte": sqlir.LessThanOrEquals,
}

// containmentFilter handles array containment and jsonb containment.
func (c *compiler) containmentFilter(col *introspection.Column, left sqlir.Expression, name string, operand any, path []string) (sqlir.Condition, error) {
	ops := map[string]sqlir.CompareOp{
		"contains":  sqlir.Contains,
		"contained": sqlir.ContainedBy,
		"overlaps":  sqlir.Overlaps,
	}
	switch {
	case col.IsArray():
		items, ok := operand.([]any)
		if !ok {
			return nil, argumentErrorf(path, "%s expects a list", name)
		}
		right, err := c.elementArray(col, items, clientMode, path)
		if err != nil {
			return nil, err
		}
		return sqlir.Compare{Left: left, Op: ops[name], Right: right}, nil
	case col.Category == sqltype.JSONB && name != "overlaps":
		right, err := c.columnValue(col, operand, clientMode, path)
		if err != nil {
			return nil, err
		}
		return sqlir.Compare{Left: left, Op: ops[name], Right: right}, nil
	}
	return nil, argumentErrorf(path, "%s is not supported on column %s", name, col.ClientName)
}

func (c *compiler) compileRelationFilter(rel *introspection.Relation, alias string, value any, path []string) (sqlir.Condition, error) {
	if value == nil {
		if !rel.IsOtherSideOne() {
			return nil, argumentErrorf(path, "filter for %s cannot be null", rel.ClientName)
		}
		exists, err := c.relationExists(rel, alias, func(string) (sqlir.Condition, error) {
			return sqlir.NoCondition{}, nil
		})
		if err != nil {
			return nil, err
		}
		return sqlir.Not(exists), nil
	}

	nested, ok := value.(map[string]any)
	if !ok {
		return nil, argumentErrorf(path, "filter for %s must be an input object", rel.ClientName)
	}
	if !rel.IsOtherSideOne() {
		key, inner, err := singleEntry(nested, path, "relation filter")
		if err != nil {
			return nil, err
		}
		if key != "contains" {
			return nil, argumentErrorf(appendPath(path, key), "filters on %s must use contains", rel.ClientName)
		}
		path = appendPath(path, key)
		if nested, ok = inner.(map[string]any); !ok {
			return nil, argumentErrorf(path, "contains must be an input object")
		}
	}

	return c.relationExists(rel, alias, func(refAlias string) (sqlir.Condition, error) {
		return c.compileFilter(rel.Referenced, refAlias, nested, path)
	})
}

// relationExists builds EXISTS (SELECT 1 FROM referenced WHERE join AND nested).
func (c *compiler) relationExists(rel *introspection.Relation, alias string, nested func(refAlias string) (sqlir.Condition, error)) (sqlir.Condition, error) {
	ref := c.schema.Table(rel.Referenced)
	refAlias := c.nextAlias(rel.Referenced)
	cond, err := nested(refAlias)
	if err != nil {
		return nil, err
	}
	return sqlir.Exists(&sqlir.Select{
		Columns: []sqlir.Expression{sqlir.Raw{SQL: "1"}},
		From:    sqlir.Table{Schema: ref.Schema, Name: ref.DatabaseName, Alias: refAlias},
		Where:   sqlir.And(c.joinCondition(rel, alias, refAlias), cond),
	}), nil
}

// joinCondition equates the relation's columns on alias with the referenced
// columns on refAlias.
func (c *compiler) joinCondition(rel *introspection.Relation, alias, refAlias string) sqlir.Condition {
	conds := make([]sqlir.Condition, len(rel.Columns))
	for i := range rel.Columns {
		local := c.schema.Column(rel.Columns[i])
		remote := c.schema.Column(rel.ReferencedColumns[i])
		conds[i] = sqlir.Eq(sqlir.Col(refAlias, remote.DatabaseName), sqlir.Col(alias, local.DatabaseName))
	}
	return sqlir.And(conds...)
}

func (c *compiler) compileUniqueFilter(table introspection.TableID, alias string, lookup map[string]any, path []string) (sqlir.Condition, error) {
	name, value, err := singleEntry(lookup, path, "lookup")
	if err != nil {
		return nil, err
	}
	keyPath := appendPath(path, name)
	kid, ok := c.schema.FindKeyByClientName(table, name)
	if !ok {
		return nil, schemaErrorf(keyPath, "key %s not found on %s", name, c.schema.Table(table).ClientName)
	}
	key := c.schema.Key(kid)

	if len(key.Columns) == 1 {
		return c.keyEquality(c.schema.Column(key.Columns[0]), alias, value, keyPath)
	}

	fields, ok := value.(map[string]any)
	if !ok {
		return nil, argumentErrorf(keyPath, "composite key %s expects an input object", name)
	}
	if err := c.checkKeyFields(key, fields, keyPath); err != nil {
		return nil, err
	}

	conds := make([]sqlir.Condition, 0, len(key.Columns))
	for _, cid := range key.Columns {
		col := c.schema.Column(cid)
		v, ok := fields[col.ClientName]
		if !ok {
			continue
		}
		cond, err := c.keyEquality(col, alias, v, appendPath(keyPath, col.ClientName))
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	for _, cid := range key.Columns {
		col := c.schema.Column(cid)
		if _, ok := fields[col.ClientName]; !ok {
			conds = append(conds, sqlir.IsNull(sqlir.Col(alias, col.DatabaseName)))
		}
	}
	return sqlir.And(conds...), nil
}

// checkKeyFields rejects fields that are not columns of key.
func (c *compiler) checkKeyFields(key *introspection.Key, fields map[string]any, path []string) error {
	for name := range fields {
		found := false
		for _, cid := range key.Columns {
			if c.schema.Column(cid).ClientName == name {
				found = true
				break
			}
		}
		if !found {
			return schemaErrorf(appendPath(path, name), "column for input field %s not found in key %s", name, key.ClientName)
		}
	}
	return nil
}

func (c *compiler) keyEquality(col *introspection.Column, alias string, value any, path []string) (sqlir.Condition, error) {
	left := sqlir.Col(alias, col.DatabaseName)
	if value == nil {
		return sqlir.IsNull(left), nil
	}
	right, err := c.columnValue(col, value, clientMode, path)
	if err != nil {
		return nil, err
	}
	return sqlir.Eq(left, right), nil
}
