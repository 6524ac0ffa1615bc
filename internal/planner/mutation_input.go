package planner

import (
	"sort"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/sqltype"
)

// ColumnValue assigns an expression to a column.
type ColumnValue struct {
	Column introspection.ColumnID
	Expr   sqlir.Expression
}

// UpdateOp enumerates the update operators.
type UpdateOp int

const (
	UpdateSet UpdateOp = iota
	UpdateIncrement
	UpdateDecrement
	UpdateMultiply
	UpdateDivide
	UpdateAppend
	UpdatePrepend
	UpdateDeleteKey
	UpdateDeleteAtPath
)

var updateOpNames = map[string]UpdateOp{
	"set":          UpdateSet,
	"increment":    UpdateIncrement,
	"decrement":    UpdateDecrement,
	"multiply":     UpdateMultiply,
	"divide":       UpdateDivide,
	"append":       UpdateAppend,
	"prepend":      UpdatePrepend,
	"deleteKey":    UpdateDeleteKey,
	"deleteAtPath": UpdateDeleteAtPath,
}

var arithmeticOperators = map[UpdateOp]string{
	UpdateIncrement: "+",
	UpdateDecrement: "-",
	UpdateMultiply:  "*",
	UpdateDivide:    "/",
}

// UpdateOperation is one singly-tagged update input such as {increment: 1}.
type UpdateOperation struct {
	Op      UpdateOp
	Operand any
}

// ParseUpdateOperation reads an update input object.
func ParseUpdateOperation(value any, path []string) (UpdateOperation, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return UpdateOperation{}, argumentErrorf(path, "update input must be an object such as {set: value}")
	}
	name, operand, err := singleEntry(obj, path, "update input")
	if err != nil {
		return UpdateOperation{}, err
	}
	op, ok := updateOpNames[name]
	if !ok {
		return UpdateOperation{}, argumentErrorf(appendPath(path, name), "unknown update operation %s", name)
	}
	return UpdateOperation{Op: op, Operand: operand}, nil
}

// CompileCreateInput converts a create input object into column values in
// column order. Columns missing from the input are left to their defaults.
func CompileCreateInput(schema *introspection.Schema, table introspection.TableID, input map[string]any) ([]ColumnValue, error) {
	return newCompiler(schema, nil).compileCreateInput(table, input, nil)
}

// CompileUpdateInput converts an update input object into column updates in
// column order.
func CompileUpdateInput(schema *introspection.Schema, table introspection.TableID, input map[string]any) ([]ColumnValue, error) {
	return newCompiler(schema, nil).compileUpdateInput(table, input, nil)
}

func (c *compiler) compileCreateInput(table introspection.TableID, input map[string]any, path []string) ([]ColumnValue, error) {
	if err := c.checkInputFields(table, input, path); err != nil {
		return nil, err
	}
	var values []ColumnValue
	for _, cid := range c.schema.TableColumns(table) {
		col := c.schema.Column(cid)
		raw, ok := input[col.ClientName]
		if !ok {
			continue
		}
		fieldPath := appendPath(path, col.ClientName)
		if !col.IsWritable() {
			return nil, argumentErrorf(fieldPath, "column %s cannot be assigned", col.ClientName)
		}
		expr, err := c.columnValue(col, raw, clientMode, fieldPath)
		if err != nil {
			return nil, err
		}
		values = append(values, ColumnValue{Column: cid, Expr: expr})
	}
	return values, nil
}

func (c *compiler) compileUpdateInput(table introspection.TableID, input map[string]any, path []string) ([]ColumnValue, error) {
	if err := c.checkInputFields(table, input, path); err != nil {
		return nil, err
	}
	var updates []ColumnValue
	for _, cid := range c.schema.TableColumns(table) {
		col := c.schema.Column(cid)
		raw, ok := input[col.ClientName]
		if !ok {
			continue
		}
		fieldPath := appendPath(path, col.ClientName)
		if !col.IsWritable() {
			return nil, argumentErrorf(fieldPath, "column %s cannot be assigned", col.ClientName)
		}
		op, err := ParseUpdateOperation(raw, fieldPath)
		if err != nil {
			return nil, err
		}
		expr, err := c.updateExpression(col, op, fieldPath)
		if err != nil {
			return nil, err
		}
		updates = append(updates, ColumnValue{Column: cid, Expr: expr})
	}
	return updates, nil
}

// checkInputFields rejects input fields that name no exposed column.
func (c *compiler) checkInputFields(table introspection.TableID, input map[string]any, path []string) error {
	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := c.schema.FindColumnByClientName(table, name); !ok {
			return schemaErrorf(appendPath(path, name), "column for input field %s not found on %s", name, c.schema.Table(table).ClientName)
		}
	}
	return nil
}

// updateExpression translates one operation into the SET expression of col.
func (c *compiler) updateExpression(col *introspection.Column, op UpdateOperation, path []string) (sqlir.Expression, error) {
	current := sqlir.Col("", col.DatabaseName)

	if op.Op == UpdateSet {
		return c.columnValue(col, op.Operand, clientMode, path)
	}
	if op.Operand == nil {
		return nil, argumentErrorf(path, "update operand cannot be null")
	}

	switch op.Op {
	case UpdateIncrement, UpdateDecrement, UpdateMultiply, UpdateDivide:
		if !col.Category.IsNumeric() || col.IsArray() {
			return nil, argumentErrorf(path, "arithmetic updates require a numeric column, %s is %s", col.ClientName, col.Category)
		}
		operand, err := c.typedColumnValue(col, op.Operand, clientMode, path)
		if err != nil {
			return nil, err
		}
		return sqlir.Binary{Left: current, Op: arithmeticOperators[op.Op], Right: operand}, nil

	case UpdateAppend, UpdatePrepend:
		if !col.IsArray() && col.Category != sqltype.JSONB {
			return nil, argumentErrorf(path, "append and prepend require an array or jsonb column")
		}
		operand, err := c.typedColumnValue(col, op.Operand, clientMode, path)
		if err != nil {
			return nil, err
		}
		if op.Op == UpdateAppend {
			return sqlir.Binary{Left: current, Op: "||", Right: operand}, nil
		}
		return sqlir.Binary{Left: operand, Op: "||", Right: current}, nil

	case UpdateDeleteKey:
		if col.Category != sqltype.JSONB || col.IsArray() {
			return nil, argumentErrorf(path, "deleteKey requires a jsonb column")
		}
		key, ok := op.Operand.(string)
		if !ok {
			return nil, conversionErrorf(path, "String", "deleteKey expects a string")
		}
		return sqlir.Binary{Left: current, Op: "-", Right: sqlir.CastAs(sqlir.Value(key), sqlir.TypeName{Name: "text"})}, nil

	case UpdateDeleteAtPath:
		if col.Category != sqltype.JSONB || col.IsArray() {
			return nil, argumentErrorf(path, "deleteAtPath requires a jsonb column")
		}
		items, ok := op.Operand.([]any)
		if !ok {
			return nil, conversionErrorf(path, "[String!]", "deleteAtPath expects a list of path elements")
		}
		elements := make([]string, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, conversionErrorf(path, "[String!]", "deleteAtPath path elements must be strings")
			}
			elements[i] = s
		}
		return sqlir.Binary{Left: current, Op: "#-", Right: sqlir.CastAs(sqlir.Value(elements), sqlir.TypeName{Name: "text", Array: true})}, nil
	}
	return nil, argumentErrorf(path, "unsupported update operation")
}
