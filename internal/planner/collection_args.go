package planner

import (
	"strconv"
	"strings"

	"postgres-graphql/internal/cursor"
	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
)

// Requested sort directions as they appear in orderBy arguments and cursors.
const (
	DirectionAsc  = "ASC"
	DirectionDesc = "DESC"
)

// CollectionParameters are the relay arguments of a collection field after
// variable resolution.
type CollectionParameters struct {
	First   *uint64
	Last    *uint64
	OrderBy []OrderByEntry
	After   *string
	Before  *string
}

// OrderByEntry is one {column: ASC|DESC} item of an orderBy argument.
type OrderByEntry struct {
	Column    string
	Direction string
}

// OrderEntry is one compiled ordering column.
type OrderEntry struct {
	Column introspection.ColumnID
	// Direction is the requested direction, ASC or DESC.
	Direction string
	// Inner orders the limited scan, Outer orders the aggregated edges.
	Inner sqlir.Order
	Outer sqlir.Order
	// Alias carries the column through the middle layer.
	Alias string
}

// CollectionArgs is the compiled form of CollectionParameters.
type CollectionArgs struct {
	First  *uint64
	Last   *uint64
	Orders []OrderEntry
	After  *cursor.Cursor
	Before *cursor.Cursor
}

// Backward reports whether the page is taken from the end of the ordering.
func (a *CollectionArgs) Backward() bool {
	return a.Last != nil
}

// PageSize returns the number of rows the client asked for.
func (a *CollectionArgs) PageSize() uint64 {
	if a.Last != nil {
		return *a.Last
	}
	if a.First != nil {
		return *a.First
	}
	return 0
}

// OrderColumns returns the ordering columns in order.
func (a *CollectionArgs) OrderColumns() []introspection.ColumnID {
	ids := make([]introspection.ColumnID, len(a.Orders))
	for i, o := range a.Orders {
		ids[i] = o.Column
	}
	return ids
}

// orderPolicy maps the requested direction and the last flag to the inner
// and outer orderings. Nulls always sort first.
func orderPolicy(direction string, last bool) (inner, outer sqlir.Order) {
	switch {
	case direction == DirectionDesc && !last:
		return sqlir.DescNullsFirst, sqlir.DescNullsFirst
	case direction == DirectionDesc && last:
		return sqlir.AscNullsFirst, sqlir.DescNullsFirst
	case last:
		return sqlir.DescNullsFirst, sqlir.AscNullsFirst
	}
	return sqlir.AscNullsFirst, sqlir.AscNullsFirst
}

// CompileCollectionArgs validates relay arguments for a collection over table
// and completes the ordering with the table's implicit ordering key.
func CompileCollectionArgs(schema *introspection.Schema, table introspection.TableID, params CollectionParameters, opts ...PlanOption) (*CollectionArgs, error) {
	return newCompiler(schema, buildPlanOptions(opts)).compileCollectionArgs(table, params, nil)
}

func (c *compiler) compileCollectionArgs(table introspection.TableID, params CollectionParameters, path []string) (*CollectionArgs, error) {
	if params.First != nil && params.Last != nil {
		return nil, argumentErrorf(path, "first and last are mutually exclusive")
	}
	if params.After != nil && params.Before != nil {
		return nil, argumentErrorf(path, "after and before are mutually exclusive")
	}
	if params.First != nil && params.Before != nil {
		return nil, argumentErrorf(path, "before cannot be used with first")
	}
	if params.Last != nil && params.After != nil {
		return nil, argumentErrorf(path, "after cannot be used with last")
	}

	args := &CollectionArgs{}
	switch {
	case params.First != nil:
		args.First = c.clampPageSize(*params.First)
	case params.Last != nil:
		args.Last = c.clampPageSize(*params.Last)
	case params.Before != nil:
		args.Last = c.clampPageSize(c.defaultPageSize)
	default:
		args.First = c.clampPageSize(c.defaultPageSize)
	}
	last := args.Last != nil

	t := c.schema.Table(table)
	seen := make(map[introspection.ColumnID]bool)
	for i, entry := range params.OrderBy {
		entryPath := appendPath(appendPath(path, "orderBy"), strconv.Itoa(i))
		cid, ok := c.schema.FindColumnByClientName(table, entry.Column)
		if !ok {
			return nil, schemaErrorf(entryPath, "column for input field %s not found on %s", entry.Column, t.ClientName)
		}
		col := c.schema.Column(cid)
		if !col.Category.IsOrderable() || col.IsArray() {
			return nil, argumentErrorf(entryPath, "column %s cannot be used in orderBy", entry.Column)
		}
		if seen[cid] {
			return nil, argumentErrorf(entryPath, "column %s appears more than once in orderBy", entry.Column)
		}
		direction := strings.ToUpper(entry.Direction)
		if direction != DirectionAsc && direction != DirectionDesc {
			return nil, argumentErrorf(entryPath, "orderBy direction must be ASC or DESC, got %q", entry.Direction)
		}
		seen[cid] = true
		args.Orders = append(args.Orders, c.orderEntry(col, direction, last))
	}

	kid, ok := c.schema.ImplicitOrderingKey(table)
	if !ok {
		return nil, schemaErrorf(path, "table %s has no usable key to order by", t.ClientName)
	}
	for _, cid := range c.schema.Key(kid).Columns {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		args.Orders = append(args.Orders, c.orderEntry(c.schema.Column(cid), DirectionAsc, last))
	}

	var err error
	if params.After != nil {
		if args.After, err = c.decodeCursor(t, args.Orders, *params.After, appendPath(path, "after")); err != nil {
			return nil, err
		}
	}
	if params.Before != nil {
		if args.Before, err = c.decodeCursor(t, args.Orders, *params.Before, appendPath(path, "before")); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (c *compiler) orderEntry(col *introspection.Column, direction string, last bool) OrderEntry {
	inner, outer := orderPolicy(direction, last)
	return OrderEntry{
		Column:    col.ID,
		Direction: direction,
		Inner:     inner,
		Outer:     outer,
		Alias:     c.schema.Table(col.Table).DatabaseName + "_" + col.DatabaseName,
	}
}

func (c *compiler) clampPageSize(n uint64) *uint64 {
	if n > c.maxPageSize {
		n = c.maxPageSize
	}
	return &n
}

// orderingContext returns the cursor ordering key and directions of orders.
func (c *compiler) orderingContext(orders []OrderEntry) (string, []string) {
	names := make([]string, len(orders))
	directions := make([]string, len(orders))
	for i, o := range orders {
		names[i] = c.schema.Column(o.Column).ClientName
		directions[i] = o.Direction
	}
	return cursor.OrderByKey(names), directions
}

func (c *compiler) decodeCursor(t *introspection.Table, orders []OrderEntry, raw string, path []string) (*cursor.Cursor, error) {
	decoded, err := cursor.DecodeCursor(raw)
	if err != nil {
		return nil, argumentErrorf(path, "%v", err)
	}
	key, directions := c.orderingContext(orders)
	if err := decoded.Validate(t.ClientName, key, directions); err != nil {
		return nil, argumentErrorf(path, "%v", err)
	}
	return &decoded, nil
}

// collectionParameters reads relay arguments from resolved field arguments.
func collectionParameters(args map[string]any, path []string) (CollectionParameters, error) {
	var params CollectionParameters
	for _, name := range []string{"first", "last"} {
		raw, ok := args[name]
		if !ok || raw == nil {
			continue
		}
		n, ok := toUint64(raw)
		if !ok {
			return params, argumentErrorf(appendPath(path, name), "%s must be a non-negative integer", name)
		}
		if name == "first" {
			params.First = &n
		} else {
			params.Last = &n
		}
	}
	for _, name := range []string{"after", "before"} {
		raw, ok := args[name]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return params, argumentErrorf(appendPath(path, name), "%s must be a string", name)
		}
		if name == "after" {
			params.After = &s
		} else {
			params.Before = &s
		}
	}

	items, _ := listArg(args, "orderBy")
	for i, item := range items {
		itemPath := appendPath(appendPath(path, "orderBy"), strconv.Itoa(i))
		obj, ok := item.(map[string]any)
		if !ok {
			return params, argumentErrorf(itemPath, "orderBy items must be input objects")
		}
		if len(obj) == 0 {
			continue
		}
		name, value, err := singleEntry(obj, itemPath, "orderBy item")
		if err != nil {
			return params, err
		}
		direction, ok := value.(string)
		if !ok {
			return params, argumentErrorf(appendPath(itemPath, name), "orderBy direction must be ASC or DESC")
		}
		params.OrderBy = append(params.OrderBy, OrderByEntry{Column: name, Direction: direction})
	}
	return params, nil
}
