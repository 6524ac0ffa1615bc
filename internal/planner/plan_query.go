package planner

import (
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql/language/ast"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
)

// StatementKind classifies a compiled root statement.
type StatementKind string

const (
	StatementUnique     StatementKind = "unique"
	StatementCollection StatementKind = "collection"
	StatementLookup     StatementKind = "lookup"
	StatementMutation   StatementKind = "mutation"
)

// SQLQuery is a rendered statement. Every statement returns exactly one row
// with one column holding the response JSON of its root field.
type SQLQuery struct {
	SQL  string
	Args []any
	Kind StatementKind
}

// Plan is the compiled form of one root field.
type Plan struct {
	Root        SQLQuery
	Table       introspection.TableID
	Field       introspection.RootFieldKind
	ResponseKey string
	// Shape tells the host how to finalize connections inside the result.
	Shape *FieldShape
	Cost  PlanCost
}

// PlanOption configures PlanRootField.
type PlanOption func(*planOptions)

type planOptions struct {
	variables       map[string]any
	fragments       map[string]*ast.FragmentDefinition
	defaultPageSize uint64
	maxPageSize     uint64
	limits          *PlanLimits
}

// WithVariables supplies request variables, decoded with json.Number numbers.
func WithVariables(vars map[string]any) PlanOption {
	return func(o *planOptions) {
		o.variables = vars
	}
}

// WithFragments supplies the request's fragment definitions.
func WithFragments(fragments map[string]*ast.FragmentDefinition) PlanOption {
	return func(o *planOptions) {
		o.fragments = fragments
	}
}

// WithPageSize overrides the default and maximum page size of collections.
func WithPageSize(defaultSize, maxSize uint64) PlanOption {
	return func(o *planOptions) {
		o.defaultPageSize = defaultSize
		o.maxPageSize = maxSize
	}
}

// WithLimits rejects plans whose estimated cost exceeds limits.
func WithLimits(limits PlanLimits) PlanOption {
	return func(o *planOptions) {
		o.limits = &limits
	}
}

func buildPlanOptions(opts []PlanOption) *planOptions {
	options := &planOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// RootFields returns the root fields of an operation's selection set with
// fragments expanded and @skip/@include applied. typeName is the root type,
// Query or Mutation. Each returned field compiles to its own statement.
func RootFields(set *ast.SelectionSet, typeName string, opts ...PlanOption) ([]*ast.Field, error) {
	return newCompiler(nil, buildPlanOptions(opts)).collectFields(set, typeName, nil)
}

// PlanRootField compiles a Query or Mutation root field into one statement.
func PlanRootField(schema *introspection.Schema, field *ast.Field, opts ...PlanOption) (*Plan, error) {
	if field == nil || field.Name == nil {
		return nil, fmt.Errorf("field is required")
	}
	options := buildPlanOptions(opts)
	c := newCompiler(schema, options)

	key := responseKey(field)
	path := []string{key}
	root, ok := schema.FindRootField(field.Name.Value)
	if !ok {
		return nil, schemaErrorf(path, "root field %s not found", field.Name.Value)
	}
	args, err := ArgumentValues(field.Arguments, c.variables)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Table: root.Table, Field: root.Kind, ResponseKey: key}
	var stmt sq.Sqlizer
	switch root.Kind {
	case introspection.RootSingle:
		stmt, err = c.planSingle(plan, field, args, path)
	case introspection.RootCollection:
		stmt, err = c.planCollection(plan, field, args, path)
	case introspection.RootLookup:
		stmt, err = c.planLookup(plan, field, args, path)
	default:
		stmt, err = c.planMutation(plan, field, args, path)
	}
	if err != nil {
		return nil, err
	}

	if options.limits != nil {
		if err := validateLimits(plan.Cost, *options.limits); err != nil {
			return nil, argumentErrorf(path, "%v", err)
		}
	}

	query, queryArgs, err := sqlir.Render(stmt)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", field.Name.Value, err)
	}
	plan.Root.SQL = query
	plan.Root.Args = queryArgs
	return plan, nil
}

func (c *compiler) planSingle(plan *Plan, field *ast.Field, args map[string]any, path []string) (sq.Sqlizer, error) {
	lookup, ok, err := objectArg(args, "lookup", path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, argumentErrorf(appendPath(path, "lookup"), "lookup is required")
	}
	selection, err := c.compileSelection(plan.Table, field.SelectionSet, nil, path)
	if err != nil {
		return nil, err
	}
	alias := c.nextAlias(plan.Table)
	filter, err := c.compileUniqueFilter(plan.Table, alias, lookup, appendPath(path, "lookup"))
	if err != nil {
		return nil, err
	}
	stmt, err := c.uniqueStatement(selection, filter, nil, alias, path)
	if err != nil {
		return nil, err
	}
	plan.Root.Kind = StatementUnique
	plan.Shape = &FieldShape{Object: shapeOf(selection)}
	plan.Cost = EstimateCost(selection, 1)
	return stmt, nil
}

func (c *compiler) planCollection(plan *Plan, field *ast.Field, args map[string]any, path []string) (sq.Sqlizer, error) {
	filterArg, _, err := objectArg(args, "filter", path)
	if err != nil {
		return nil, err
	}
	params, err := collectionParameters(args, path)
	if err != nil {
		return nil, err
	}
	collection, err := c.compileCollectionArgs(plan.Table, params, path)
	if err != nil {
		return nil, err
	}
	shape, nodeSet, err := c.compileConnectionShape(plan.Table, field.SelectionSet, collection, path)
	if err != nil {
		return nil, err
	}
	selection, err := c.compileSelection(plan.Table, nodeSet, collection.OrderColumns(), appendPath(appendPath(path, KeyEdges), KeyNode))
	if err != nil {
		return nil, err
	}
	alias := c.nextAlias(plan.Table)
	filter, err := c.compileFilter(plan.Table, alias, filterArg, appendPath(path, "filter"))
	if err != nil {
		return nil, err
	}
	stmt, err := c.collectionStatement(selection, collection, filter, nil, alias, path)
	if err != nil {
		return nil, err
	}
	shape.Node = shapeOf(selection)
	plan.Root.Kind = StatementCollection
	plan.Shape = &FieldShape{Connection: shape}
	plan.Cost = EstimateCost(selection, int(collection.PageSize()))
	return stmt, nil
}

func (c *compiler) planLookup(plan *Plan, field *ast.Field, args map[string]any, path []string) (sq.Sqlizer, error) {
	lookupPath := appendPath(path, "lookup")
	lookup, ok, err := objectArg(args, "lookup", path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, argumentErrorf(lookupPath, "lookup is required")
	}
	name, _, err := singleEntry(lookup, lookupPath, "lookup")
	if err != nil {
		return nil, err
	}
	keyPath := appendPath(lookupPath, name)
	kid, ok := c.schema.FindKeyByClientName(plan.Table, name)
	if !ok {
		return nil, schemaErrorf(keyPath, "key %s not found on %s", name, c.schema.Table(plan.Table).ClientName)
	}
	key := c.schema.Key(kid)

	items, _ := listArg(lookup, name)
	keys := make([][]any, len(items))
	for i, item := range items {
		entry, err := c.lookupEntry(key, item, appendPath(keyPath, strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		keys[i] = entry
	}

	selection, err := c.compileSelection(plan.Table, field.SelectionSet, nil, path)
	if err != nil {
		return nil, err
	}
	stmt, err := c.lookupStatement(selection, key, keys, c.nextAlias(plan.Table), keyPath)
	if err != nil {
		return nil, err
	}
	plan.Root.Kind = StatementLookup
	plan.Shape = &FieldShape{List: shapeOf(selection)}
	plan.Cost = EstimateCost(selection, len(keys))
	return stmt, nil
}

// lookupEntry returns the key column values of one lookup item. Composite
// key columns the item omits are NULL.
func (c *compiler) lookupEntry(key *introspection.Key, item any, path []string) ([]any, error) {
	if len(key.Columns) == 1 {
		return []any{item}, nil
	}
	fields, ok := item.(map[string]any)
	if !ok {
		return nil, argumentErrorf(path, "composite key %s expects input objects", key.ClientName)
	}
	if err := c.checkKeyFields(key, fields, path); err != nil {
		return nil, err
	}
	entry := make([]any, len(key.Columns))
	for i, cid := range key.Columns {
		entry[i] = fields[c.schema.Column(cid).ClientName]
	}
	return entry, nil
}

func (c *compiler) planMutation(plan *Plan, field *ast.Field, args map[string]any, path []string) (sq.Sqlizer, error) {
	t := c.schema.Table(plan.Table)
	many := plan.Field == introspection.RootCreateMany || plan.Field == introspection.RootUpdateMany || plan.Field == introspection.RootDeleteMany
	typeName := MutationResultTypeName(t.ClientName)
	if many {
		typeName = BatchMutationResultTypeName(t.ClientName)
	}
	payload, err := c.compileMutationPayload(plan.Table, field.SelectionSet, typeName, path)
	if err != nil {
		return nil, err
	}

	var statement sq.Sqlizer
	rows := 1
	switch plan.Field {
	case introspection.RootCreate, introspection.RootCreateMany:
		inputPath := appendPath(path, "input")
		var inputs []any
		if plan.Field == introspection.RootCreate {
			input, ok, err := objectArg(args, "input", path)
			if err != nil {
				return nil, err
			}
			if !ok {
				input = map[string]any{}
			}
			inputs = []any{input}
		} else {
			inputs, _ = listArg(args, "input")
		}
		values := make([][]ColumnValue, len(inputs))
		for i, raw := range inputs {
			itemPath := inputPath
			if many {
				itemPath = appendPath(inputPath, strconv.Itoa(i))
			}
			input, ok := raw.(map[string]any)
			if !ok {
				return nil, argumentErrorf(itemPath, "input must be an input object")
			}
			if values[i], err = c.compileCreateInput(plan.Table, input, itemPath); err != nil {
				return nil, err
			}
		}
		rows = len(inputs)
		statement, err = c.insertStatement(plan.Table, values, inputPath)

	case introspection.RootUpdate, introspection.RootUpdateMany:
		input, ok, err := objectArg(args, "input", path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, argumentErrorf(appendPath(path, "input"), "input is required")
		}
		updates, err := c.compileUpdateInput(plan.Table, input, appendPath(path, "input"))
		if err != nil {
			return nil, err
		}
		where, err := c.mutationFilter(t, args, !many, path)
		if err != nil {
			return nil, err
		}
		statement, err = c.updateStatement(plan.Table, updates, where, path)
		if err != nil {
			return nil, err
		}

	case introspection.RootDelete, introspection.RootDeleteMany:
		where, err := c.mutationFilter(t, args, !many, path)
		if err != nil {
			return nil, err
		}
		statement = c.deleteStatement(plan.Table, where)

	default:
		return nil, schemaErrorf(path, "unsupported root field kind %d", plan.Field)
	}
	if err != nil {
		return nil, err
	}

	stmt, err := c.mutationStatement(statement, payload, many, path)
	if err != nil {
		return nil, err
	}
	plan.Root.Kind = StatementMutation
	returningShape := shapeOf(payload.returning)
	plan.Shape = &FieldShape{Object: &ObjectShape{Fields: map[string]*FieldShape{}}}
	if !returningShape.Empty() {
		for _, f := range payload.fields {
			if f.Name != payloadReturning {
				continue
			}
			if many {
				plan.Shape.Object.Fields[f.Key] = &FieldShape{List: returningShape}
			} else {
				plan.Shape.Object.Fields[f.Key] = &FieldShape{Object: returningShape}
			}
		}
	}
	plan.Cost = EstimateCost(payload.returning, rows)
	return stmt, nil
}

// mutationFilter compiles the row restriction of an update or delete:
// a unique lookup for single-row mutations, an optional filter otherwise.
// Conditions are qualified by the table name, which UPDATE and DELETE
// expose without an alias.
func (c *compiler) mutationFilter(t *introspection.Table, args map[string]any, single bool, path []string) (sqlir.Condition, error) {
	if !single {
		filter, _, err := objectArg(args, "filter", path)
		if err != nil {
			return nil, err
		}
		return c.compileFilter(t.ID, t.DatabaseName, filter, appendPath(path, "filter"))
	}

	lookup, ok, err := objectArg(args, "lookup", path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, argumentErrorf(appendPath(path, "lookup"), "lookup is required")
	}
	alias := t.DatabaseName
	if !t.IsView {
		alias = c.nextAlias(t.ID)
	}
	where, err := c.compileUniqueFilter(t.ID, alias, lookup, appendPath(path, "lookup"))
	if err != nil {
		return nil, err
	}
	return c.rowFilter(t, where, true, alias), nil
}
