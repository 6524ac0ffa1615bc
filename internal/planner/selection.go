package planner

import (
	"github.com/graphql-go/graphql/language/ast"

	"postgres-graphql/internal/introspection"
)

// TableSelection is one compiled field of a table's selection set:
// ColumnSelection, TypenameSelection, JoinUnique or JoinMany.
type TableSelection interface {
	isTableSelection()
}

// ColumnSelection projects a column under the client's response key.
type ColumnSelection struct {
	Column      introspection.ColumnID
	ResponseKey string
}

// TypenameSelection projects the constant type name.
type TypenameSelection struct {
	ResponseKey string
	TypeName    string
}

// JoinUnique embeds the single row reached through a to-one relation.
type JoinUnique struct {
	Relation    introspection.RelationID
	ResponseKey string
	Plan        *SelectionPlan
}

// JoinMany embeds a connection over the rows reached through a to-many
// relation. Plan is the selection under edges.node.
type JoinMany struct {
	Relation    introspection.RelationID
	ResponseKey string
	Plan        *SelectionPlan
	Args        *CollectionArgs
	Filter      map[string]any
	Connection  *ConnectionShape
}

func (ColumnSelection) isTableSelection()   {}
func (TypenameSelection) isTableSelection() {}
func (JoinUnique) isTableSelection()        {}
func (JoinMany) isTableSelection()          {}

// SelectionPlan is the compiled selection set of one table.
type SelectionPlan struct {
	Table      introspection.TableID
	Selections []TableSelection
	// Extra lists columns fetched without being selected: unselected
	// ordering columns, then uncovered implicit ordering key columns.
	Extra []introspection.ColumnID
}

// CompileSelection compiles a selection set over table. orders lists the
// columns the enclosing collection orders by, if any.
func CompileSelection(schema *introspection.Schema, table introspection.TableID, set *ast.SelectionSet, orders []introspection.ColumnID, opts ...PlanOption) (*SelectionPlan, error) {
	return newCompiler(schema, buildPlanOptions(opts)).compileSelection(table, set, orders, nil)
}

func (c *compiler) compileSelection(table introspection.TableID, set *ast.SelectionSet, orders []introspection.ColumnID, path []string) (*SelectionPlan, error) {
	t := c.schema.Table(table)
	fields, err := c.collectFields(set, t.ClientName, path)
	if err != nil {
		return nil, err
	}

	plan := &SelectionPlan{Table: table}
	selected := make(map[introspection.ColumnID]bool)
	for _, field := range fields {
		name := field.Name.Value
		key := responseKey(field)
		fieldPath := appendPath(path, key)

		if name == KeyTypename {
			plan.Selections = append(plan.Selections, TypenameSelection{ResponseKey: key, TypeName: t.ClientName})
			continue
		}
		if cid, ok := c.schema.FindColumnByClientName(table, name); ok {
			if field.SelectionSet != nil && len(field.SelectionSet.Selections) > 0 {
				return nil, schemaErrorf(fieldPath, "column %s cannot have a selection set", name)
			}
			selected[cid] = true
			plan.Selections = append(plan.Selections, ColumnSelection{Column: cid, ResponseKey: key})
			continue
		}
		rid, ok := c.schema.FindRelationByClientName(table, name)
		if !ok {
			return nil, schemaErrorf(fieldPath, "column for input field %s not found on %s", name, t.ClientName)
		}
		rel := c.schema.Relation(rid)
		if rel.IsOtherSideOne() {
			nested, err := c.compileSelection(rel.Referenced, field.SelectionSet, nil, fieldPath)
			if err != nil {
				return nil, err
			}
			plan.Selections = append(plan.Selections, JoinUnique{Relation: rid, ResponseKey: key, Plan: nested})
			continue
		}
		join, err := c.compileConnectionField(rel, field, fieldPath)
		if err != nil {
			return nil, err
		}
		plan.Selections = append(plan.Selections, join)
	}

	plan.Extra = c.extraColumns(table, selected, orders)
	return plan, nil
}

// extraColumns returns unselected ordering columns followed by the implicit
// ordering key columns covered by neither.
func (c *compiler) extraColumns(table introspection.TableID, selected map[introspection.ColumnID]bool, orders []introspection.ColumnID) []introspection.ColumnID {
	var extra []introspection.ColumnID
	covered := make(map[introspection.ColumnID]bool, len(selected)+len(orders))
	for cid := range selected {
		covered[cid] = true
	}
	for _, cid := range orders {
		if covered[cid] {
			continue
		}
		covered[cid] = true
		extra = append(extra, cid)
	}
	if kid, ok := c.schema.ImplicitOrderingKey(table); ok {
		for _, cid := range c.schema.Key(kid).Columns {
			if covered[cid] {
				continue
			}
			covered[cid] = true
			extra = append(extra, cid)
		}
	}
	return extra
}

// compileConnectionField compiles a to-many relation field: its relay
// arguments, its connection selection and the node selection beneath edges.
func (c *compiler) compileConnectionField(rel *introspection.Relation, field *ast.Field, path []string) (JoinMany, error) {
	args, err := ArgumentValues(field.Arguments, c.variables)
	if err != nil {
		return JoinMany{}, err
	}
	filter, _, err := objectArg(args, "filter", path)
	if err != nil {
		return JoinMany{}, err
	}
	params, err := collectionParameters(args, path)
	if err != nil {
		return JoinMany{}, err
	}
	collection, err := c.compileCollectionArgs(rel.Referenced, params, path)
	if err != nil {
		return JoinMany{}, err
	}
	shape, nodeSet, err := c.compileConnectionShape(rel.Referenced, field.SelectionSet, collection, path)
	if err != nil {
		return JoinMany{}, err
	}
	plan, err := c.compileSelection(rel.Referenced, nodeSet, collection.OrderColumns(), appendPath(appendPath(path, KeyEdges), KeyNode))
	if err != nil {
		return JoinMany{}, err
	}
	return JoinMany{
		Relation:    rel.ID,
		ResponseKey: responseKey(field),
		Plan:        plan,
		Args:        collection,
		Filter:      filter,
		Connection:  shape,
	}, nil
}

// compileConnectionShape unwraps a connection selection once. It returns the
// connection shape and the merged selection set under edges.node.
func (c *compiler) compileConnectionShape(table introspection.TableID, set *ast.SelectionSet, args *CollectionArgs, path []string) (*ConnectionShape, *ast.SelectionSet, error) {
	typeName := c.schema.Table(table).ClientName
	key, directions := c.orderingContext(args.Orders)
	shape := &ConnectionShape{
		TypeName:   typeName,
		OrderByKey: key,
		Directions: directions,
		Limit:      args.PageSize(),
		Backward:   args.Backward(),
	}
	node := &ast.SelectionSet{}

	fields, err := c.collectFields(set, ConnectionTypeName(typeName), path)
	if err != nil {
		return nil, nil, err
	}
	for _, field := range fields {
		name := field.Name.Value
		fieldPath := appendPath(path, responseKey(field))
		shape.Selection.Fields = append(shape.Selection.Fields, ConnectionField{Key: responseKey(field), Name: name})

		switch name {
		case KeyTypename:
		case KeyEdges:
			edgeFields, err := c.collectFields(field.SelectionSet, EdgeTypeName(typeName), fieldPath)
			if err != nil {
				return nil, nil, err
			}
			for _, edgeField := range edgeFields {
				edgeName := edgeField.Name.Value
				switch edgeName {
				case KeyNode:
					if edgeField.SelectionSet != nil {
						node.Selections = append(node.Selections, edgeField.SelectionSet.Selections...)
					}
				case KeyCursor, KeyTypename:
				default:
					return nil, nil, schemaErrorf(appendPath(fieldPath, responseKey(edgeField)), "field %s not found on %s", edgeName, EdgeTypeName(typeName))
				}
				shape.Selection.Edge = appendConnectionField(shape.Selection.Edge, responseKey(edgeField), edgeName)
			}
		case KeyPageInfo:
			infoFields, err := c.collectFields(field.SelectionSet, PageInfoTypeName, fieldPath)
			if err != nil {
				return nil, nil, err
			}
			for _, infoField := range infoFields {
				infoName := infoField.Name.Value
				switch infoName {
				case KeyHasNextPage, KeyHasPreviousPage, KeyStartCursor, KeyEndCursor, KeyTypename:
				default:
					return nil, nil, schemaErrorf(appendPath(fieldPath, responseKey(infoField)), "field %s not found on %s", infoName, PageInfoTypeName)
				}
				shape.Selection.PageInfo = appendConnectionField(shape.Selection.PageInfo, responseKey(infoField), infoName)
			}
		default:
			return nil, nil, schemaErrorf(fieldPath, "field %s not found on %s", name, ConnectionTypeName(typeName))
		}
	}
	return shape, node, nil
}

// appendConnectionField adds a field unless its response key is present.
// Several edges or pageInfo selections share one canonical object.
func appendConnectionField(fields []ConnectionField, key, name string) []ConnectionField {
	for _, f := range fields {
		if f.Key == key {
			return fields
		}
	}
	return append(fields, ConnectionField{Key: key, Name: name})
}

// collectFields flattens fragments for an object of type typeName and
// merges fields sharing a response key. Fields skipped by @skip or @include
// are dropped.
func (c *compiler) collectFields(set *ast.SelectionSet, typeName string, path []string) ([]*ast.Field, error) {
	var fields []*ast.Field
	index := make(map[string]int)
	visited := make(map[string]bool)

	var walk func(set *ast.SelectionSet) error
	walk = func(set *ast.SelectionSet) error {
		if set == nil {
			return nil
		}
		for _, selection := range set.Selections {
			switch sel := selection.(type) {
			case *ast.Field:
				if sel == nil || sel.Name == nil {
					continue
				}
				include, err := c.shouldInclude(sel.Directives, path)
				if err != nil {
					return err
				}
				if !include {
					continue
				}
				key := responseKey(sel)
				if i, ok := index[key]; ok {
					fields[i] = mergeFields(fields[i], sel)
					continue
				}
				index[key] = len(fields)
				fields = append(fields, sel)

			case *ast.InlineFragment:
				include, err := c.shouldInclude(sel.Directives, path)
				if err != nil {
					return err
				}
				if !include || !typeConditionMatches(sel.TypeCondition, typeName) {
					continue
				}
				if err := walk(sel.SelectionSet); err != nil {
					return err
				}

			case *ast.FragmentSpread:
				if sel.Name == nil {
					continue
				}
				include, err := c.shouldInclude(sel.Directives, path)
				if err != nil {
					return err
				}
				if !include {
					continue
				}
				name := sel.Name.Value
				if visited[name] {
					continue
				}
				fragment, ok := c.fragments[name]
				if !ok || fragment == nil {
					return schemaErrorf(path, "fragment %s is not defined", name)
				}
				if !typeConditionMatches(fragment.TypeCondition, typeName) {
					continue
				}
				visited[name] = true
				if err := walk(fragment.SelectionSet); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(set); err != nil {
		return nil, err
	}
	return fields, nil
}

// shouldInclude evaluates @skip and @include.
func (c *compiler) shouldInclude(directives []*ast.Directive, path []string) (bool, error) {
	for _, directive := range directives {
		if directive == nil || directive.Name == nil {
			continue
		}
		name := directive.Name.Value
		if name != "skip" && name != "include" {
			continue
		}
		args, err := ArgumentValues(directive.Arguments, c.variables)
		if err != nil {
			return false, err
		}
		cond, ok := args["if"].(bool)
		if !ok {
			return false, argumentErrorf(appendPath(path, "@"+name), "if must be a boolean")
		}
		if name == "skip" && cond {
			return false, nil
		}
		if name == "include" && !cond {
			return false, nil
		}
	}
	return true, nil
}

func typeConditionMatches(cond *ast.Named, typeName string) bool {
	return cond == nil || cond.Name == nil || cond.Name.Value == typeName
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	return field.Name.Value
}

// mergeFields combines the sub-selections of two fields with the same
// response key. The first field's name and arguments win.
func mergeFields(first, second *ast.Field) *ast.Field {
	if second.SelectionSet == nil || len(second.SelectionSet.Selections) == 0 {
		return first
	}
	merged := *first
	selections := make([]ast.Selection, 0)
	if first.SelectionSet != nil {
		selections = append(selections, first.SelectionSet.Selections...)
	}
	selections = append(selections, second.SelectionSet.Selections...)
	merged.SelectionSet = &ast.SelectionSet{Kind: "SelectionSet", Selections: selections}
	return &merged
}
