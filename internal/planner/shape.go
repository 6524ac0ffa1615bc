package planner

// Canonical keys of the connection objects built in SQL. The host renames
// them to the client's response keys when it finalizes a page.
const (
	KeyEdges           = "edges"
	KeyNode            = "node"
	KeyCursor          = "cursor"
	KeyPageInfo        = "pageInfo"
	KeyHasNextPage     = "hasNextPage"
	KeyHasPreviousPage = "hasPreviousPage"
	KeyStartCursor     = "startCursor"
	KeyEndCursor       = "endCursor"
	KeyTypename        = "__typename"
)

// FieldShape describes how the host post-processes one response field.
// Exactly one member is set.
type FieldShape struct {
	Object     *ObjectShape
	List       *ObjectShape
	Connection *ConnectionShape
}

// ObjectShape lists the fields of an object that contain connections,
// directly or further down. Fields without post-processing are absent.
type ObjectShape struct {
	Fields map[string]*FieldShape
}

// Empty reports whether nothing below the object needs post-processing.
func (s *ObjectShape) Empty() bool {
	return s == nil || len(s.Fields) == 0
}

// ConnectionField maps a client response key to a canonical connection key.
type ConnectionField struct {
	Key  string
	Name string
}

// ConnectionSelection records what the client selected on a connection,
// its edges and its pageInfo, in selection order.
type ConnectionSelection struct {
	Fields   []ConnectionField
	Edge     []ConnectionField
	PageInfo []ConnectionField
}

// ConnectionShape is everything the host needs to turn the SQL connection
// object into the client's page: the cursor context, the sentinel row
// handling and the client's field names.
type ConnectionShape struct {
	TypeName   string
	OrderByKey string
	Directions []string
	Limit      uint64
	Backward   bool
	Selection  ConnectionSelection
	Node       *ObjectShape
}

// ConnectionTypeName returns the type name of a table's connection object.
func ConnectionTypeName(typeName string) string {
	return typeName + "Connection"
}

// EdgeTypeName returns the type name of a table's edge object.
func EdgeTypeName(typeName string) string {
	return typeName + "Edge"
}

// PageInfoTypeName is the type name of every pageInfo object.
const PageInfoTypeName = "PageInfo"

// MutationResultTypeName returns the payload type name of single-row
// mutations on a table.
func MutationResultTypeName(typeName string) string {
	return typeName + "MutationResult"
}

// BatchMutationResultTypeName returns the payload type name of multi-row
// mutations on a table.
func BatchMutationResultTypeName(typeName string) string {
	return typeName + "BatchMutationResult"
}

// shapeOf collects the post-processing shape of a selection plan.
func shapeOf(plan *SelectionPlan) *ObjectShape {
	shape := &ObjectShape{Fields: map[string]*FieldShape{}}
	for _, sel := range plan.Selections {
		switch s := sel.(type) {
		case JoinUnique:
			if nested := shapeOf(s.Plan); !nested.Empty() {
				shape.Fields[s.ResponseKey] = &FieldShape{Object: nested}
			}
		case JoinMany:
			conn := *s.Connection
			conn.Node = shapeOf(s.Plan)
			shape.Fields[s.ResponseKey] = &FieldShape{Connection: &conn}
		}
	}
	return shape
}
