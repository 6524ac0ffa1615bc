// Package introspection builds the relational schema model the planner
// compiles against. The model is an arena: tables, columns, keys, relations
// and enums live in flat slices and refer to each other by integer IDs, so the
// cyclic table graph carries no pointers. A Schema is populated either from
// the PostgreSQL catalog or from an annotated SDL document, finalized once,
// and then shared read-only by every request.
package introspection

import (
	"fmt"
	"sort"

	"postgres-graphql/internal/naming"
	"postgres-graphql/internal/sqltype"
)

// TableID identifies a table within a Schema.
type TableID int

// ColumnID identifies a column within a Schema.
type ColumnID int

// KeyID identifies a uniqueness key within a Schema.
type KeyID int

// RelationID identifies one direction of a foreign key within a Schema.
type RelationID int

// EnumID identifies an enum type within a Schema.
type EnumID int

// NoEnum marks a column whose type is not an enum.
const NoEnum EnumID = -1

// IdentityMode mirrors pg_attribute.attidentity.
type IdentityMode int

const (
	IdentityNone IdentityMode = iota
	IdentityByDefault
	IdentityAlways
)

// Column represents a table column.
type Column struct {
	ID           ColumnID
	Table        TableID
	DatabaseName string
	ClientName   string
	// TypeSchema and TypeName name the element type (pg_type.typname); array
	// columns set Array and keep the element type here.
	TypeSchema string
	TypeName   string
	Array      bool
	Nullable   bool
	HasDefault bool
	Identity   IdentityMode
	// Generated marks GENERATED ALWAYS AS (...) STORED columns.
	Generated bool
	// ReadOnly withholds the column from mutation inputs.
	ReadOnly bool
	Comment  string

	// Resolved by Finalize.
	Enum     EnumID
	Category sqltype.Category
}

// IsNullable reports whether the column accepts NULL.
func (c *Column) IsNullable() bool { return c.Nullable }

// IsArray reports whether the column holds an array of its element type.
func (c *Column) IsArray() bool { return c.Array }

// IsEnum reports whether the element type is a known enum.
func (c *Column) IsEnum() bool { return c.Enum != NoEnum }

// IsExposed reports whether the column's type can be exchanged with clients.
func (c *Column) IsExposed() bool { return c.Category != sqltype.Unsupported }

// IsWritable reports whether clients may assign the column in mutations.
func (c *Column) IsWritable() bool {
	return c.IsExposed() && c.Identity != IdentityAlways && !c.Generated && !c.ReadOnly
}

// Key is a primary key or unique constraint.
type Key struct {
	ID         KeyID
	Table      TableID
	Name       string
	ClientName string
	Columns    []ColumnID
	Primary    bool
}

// Relation is one direction of a foreign key. The forward direction lives on
// the table holding the foreign key, the back direction on the referenced table.
// Columns are always on Table, ReferencedColumns on Referenced, positionally
// paired.
type Relation struct {
	ID                RelationID
	Name              string
	ClientName        string
	Table             TableID
	Columns           []ColumnID
	Referenced        TableID
	ReferencedColumns []ColumnID
	Forward           bool

	unique bool
}

// IsOtherSideOne reports whether following the relation yields at most one
// row: always for forward relations, and for back relations whose foreign key
// columns are covered by a uniqueness key.
func (r *Relation) IsOtherSideOne() bool {
	return r.Forward || r.unique
}

// EnumVariant is one label of an enum type.
type EnumVariant struct {
	DatabaseName string
	ClientName   string
}

// Enum is a PostgreSQL enum type.
type Enum struct {
	ID           EnumID
	Schema       string
	DatabaseName string
	ClientName   string
	Variants     []EnumVariant
}

// VariantByClientName maps a GraphQL enum value to its database label.
func (e *Enum) VariantByClientName(name string) (EnumVariant, bool) {
	for _, v := range e.Variants {
		if v.ClientName == name {
			return v, true
		}
	}
	return EnumVariant{}, false
}

// Table represents a base table or view.
type Table struct {
	ID           TableID
	Schema       string
	DatabaseName string
	ClientName   string
	IsView       bool
	// ReadOnly tables get no mutation root fields.
	ReadOnly     bool
	Comment      string
	ColumnIDs    []ColumnID
	KeyIDs       []KeyID
	Forward      []RelationID
	Back         []RelationID
	RootFields   naming.RootFieldNames

	columnsByClient   map[string]ColumnID
	columnsByName     map[string]ColumnID
	relationsByClient map[string]RelationID
	keysByClient      map[string]KeyID
	usable            bool
}

// RootFieldKind classifies a generated root field.
type RootFieldKind int

const (
	RootSingle RootFieldKind = iota
	RootCollection
	RootLookup
	RootCreate
	RootCreateMany
	RootUpdate
	RootUpdateMany
	RootDelete
	RootDeleteMany
)

// IsMutation reports whether the root field belongs to the Mutation type.
func (k RootFieldKind) IsMutation() bool {
	return k >= RootCreate
}

// RootField binds a root field name to its table and operation.
type RootField struct {
	Table TableID
	Kind  RootFieldKind
}

// Schema is the arena holding the whole relational model.
type Schema struct {
	Tables    []Table
	Columns   []Column
	Keys      []Key
	Relations []Relation
	Enums     []Enum

	tablesByName   map[string]TableID
	tablesByClient map[string]TableID
	enumsByName    map[string]EnumID
	rootFields     map[string]RootField
	finalized      bool
}

// NewSchema returns an empty schema ready to be populated.
func NewSchema() *Schema {
	return &Schema{}
}

func qualifiedName(schema, name string) string {
	return schema + "." + name
}

// AddEnum registers an enum type with its labels in declaration order.
func (s *Schema) AddEnum(schema, name string, labels []string) EnumID {
	id := EnumID(len(s.Enums))
	if s.enumsByName == nil {
		s.enumsByName = make(map[string]EnumID)
	}
	s.enumsByName[qualifiedName(schema, name)] = id
	variants := make([]EnumVariant, len(labels))
	for i, label := range labels {
		variants[i] = EnumVariant{DatabaseName: label}
	}
	s.Enums = append(s.Enums, Enum{ID: id, Schema: schema, DatabaseName: name, Variants: variants})
	return id
}

// AddTable registers a table and returns its ID.
func (s *Schema) AddTable(schema, name string) TableID {
	id := TableID(len(s.Tables))
	s.Tables = append(s.Tables, Table{ID: id, Schema: schema, DatabaseName: name})
	if s.tablesByName == nil {
		s.tablesByName = make(map[string]TableID)
	}
	s.tablesByName[qualifiedName(schema, name)] = id
	return id
}

// AddColumn appends a column to a table. ID, Table and Enum are assigned here.
func (s *Schema) AddColumn(table TableID, col Column) ColumnID {
	id := ColumnID(len(s.Columns))
	col.ID = id
	col.Table = table
	col.Enum = NoEnum
	s.Columns = append(s.Columns, col)
	t := &s.Tables[table]
	t.ColumnIDs = append(t.ColumnIDs, id)
	return id
}

// AddKey registers a primary key or unique constraint over the named columns.
func (s *Schema) AddKey(table TableID, name string, columns []string, primary bool) (KeyID, error) {
	ids, err := s.columnIDs(table, columns)
	if err != nil {
		return 0, fmt.Errorf("key %s: %w", name, err)
	}
	id := KeyID(len(s.Keys))
	s.Keys = append(s.Keys, Key{ID: id, Table: table, Name: name, Columns: ids, Primary: primary})
	t := &s.Tables[table]
	t.KeyIDs = append(t.KeyIDs, id)
	return id, nil
}

// AddForeignKey registers both directions of a foreign key constraint.
func (s *Schema) AddForeignKey(name string, table TableID, columns []string, referenced TableID, referencedColumns []string) error {
	if len(columns) == 0 || len(columns) != len(referencedColumns) {
		return fmt.Errorf("foreign key %s: column count mismatch (%d vs %d)", name, len(columns), len(referencedColumns))
	}
	local, err := s.columnIDs(table, columns)
	if err != nil {
		return fmt.Errorf("foreign key %s: %w", name, err)
	}
	remote, err := s.columnIDs(referenced, referencedColumns)
	if err != nil {
		return fmt.Errorf("foreign key %s: %w", name, err)
	}

	forwardID := RelationID(len(s.Relations))
	s.Relations = append(s.Relations, Relation{
		ID: forwardID, Name: name, Table: table, Columns: local,
		Referenced: referenced, ReferencedColumns: remote, Forward: true,
	})
	backID := RelationID(len(s.Relations))
	s.Relations = append(s.Relations, Relation{
		ID: backID, Name: name, Table: referenced, Columns: remote,
		Referenced: table, ReferencedColumns: local,
	})
	s.Tables[table].Forward = append(s.Tables[table].Forward, forwardID)
	s.Tables[referenced].Back = append(s.Tables[referenced].Back, backID)
	return nil
}

func (s *Schema) columnIDs(table TableID, names []string) ([]ColumnID, error) {
	ids := make([]ColumnID, 0, len(names))
	for _, name := range names {
		found := false
		for _, cid := range s.Tables[table].ColumnIDs {
			if s.Columns[cid].DatabaseName == name {
				ids = append(ids, cid)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("column %s not found on table %s", name, s.Tables[table].DatabaseName)
		}
	}
	return ids, nil
}

// Finalize resolves column types, computes relation cardinality, assigns
// client names that were not set explicitly and builds the lookup indexes.
// The schema must not be modified afterwards.
func (s *Schema) Finalize(namer *naming.Namer) error {
	if s.finalized {
		return nil
	}
	if namer == nil {
		namer = naming.Default()
	}

	for i := range s.Enums {
		e := &s.Enums[i]
		if e.ClientName == "" {
			e.ClientName = namer.RegisterEnumType(e.DatabaseName)
		}
		for j := range e.Variants {
			if e.Variants[j].ClientName == "" {
				e.Variants[j].ClientName = namer.EnumVariantName(e.Variants[j].DatabaseName)
			}
		}
	}

	for i := range s.Columns {
		c := &s.Columns[i]
		if id, ok := s.enumsByName[qualifiedName(c.TypeSchema, c.TypeName)]; ok {
			c.Enum = id
			c.Category = sqltype.Enum
			continue
		}
		c.Category = sqltype.Classify(c.TypeName)
	}

	for i := range s.Relations {
		r := &s.Relations[i]
		if !r.Forward {
			r.unique = s.coveredByKey(r.Referenced, r.ReferencedColumns)
		}
	}

	s.tablesByClient = make(map[string]TableID, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		t.usable = s.computeUsable(t)
		if t.ClientName == "" {
			t.ClientName = namer.RegisterType(t.DatabaseName)
		}
		s.tablesByClient[t.ClientName] = t.ID
	}

	// Columns first: they win name collisions against relations.
	for i := range s.Tables {
		t := &s.Tables[i]
		t.columnsByClient = make(map[string]ColumnID, len(t.ColumnIDs))
		t.columnsByName = make(map[string]ColumnID, len(t.ColumnIDs))
		for _, cid := range t.ColumnIDs {
			c := &s.Columns[cid]
			t.columnsByName[c.DatabaseName] = cid
			if !c.IsExposed() {
				continue
			}
			if c.ClientName == "" {
				c.ClientName = namer.RegisterColumnField(t.ClientName, c.DatabaseName)
			}
			t.columnsByClient[c.ClientName] = cid
		}
	}

	for i := range s.Tables {
		t := &s.Tables[i]
		t.relationsByClient = make(map[string]RelationID)
		for _, rid := range t.Forward {
			s.nameRelation(namer, t, rid)
		}
		for _, rid := range t.Back {
			s.nameRelation(namer, t, rid)
		}

		t.keysByClient = make(map[string]KeyID, len(t.KeyIDs))
		for _, kid := range t.KeyIDs {
			k := &s.Keys[kid]
			if !s.keyUsable(k) {
				continue
			}
			if k.ClientName == "" {
				names := make([]string, len(k.Columns))
				for j, cid := range k.Columns {
					names[j] = s.Columns[cid].ClientName
				}
				if len(names) == 1 {
					k.ClientName = names[0]
				} else {
					k.ClientName = namer.RegisterKeyField(t.ClientName, names, k.Name)
				}
			}
			t.keysByClient[k.ClientName] = kid
		}
	}

	s.rootFields = make(map[string]RootField)
	for i := range s.Tables {
		t := &s.Tables[i]
		if !t.usable {
			continue
		}
		if t.RootFields.Single == "" {
			t.RootFields = namer.RegisterRootFields(t.ClientName, t.DatabaseName)
		}
		s.registerRootFields(t)
	}

	s.finalized = true
	return nil
}

func (s *Schema) nameRelation(namer *naming.Namer, t *Table, rid RelationID) {
	r := &s.Relations[rid]
	if r.ClientName == "" {
		other := &s.Tables[r.Referenced]
		var base string
		if r.Forward {
			names := make([]string, len(r.Columns))
			for i, cid := range r.Columns {
				names[i] = s.Columns[cid].DatabaseName
			}
			base = namer.ForwardRelationFieldName(names, other.DatabaseName)
		} else {
			fkNames := make([]string, len(r.ReferencedColumns))
			for i, cid := range r.ReferencedColumns {
				fkNames[i] = s.Columns[cid].DatabaseName
			}
			base = namer.BackRelationFieldName(other.DatabaseName, fkNames, s.isOnlyForeignKey(r.Referenced, t.ID), r.unique)
		}
		r.ClientName = namer.RegisterRelationField(t.ClientName, base, r.Name, r.Forward)
	}
	t.relationsByClient[r.ClientName] = rid
}

// isOnlyForeignKey reports whether source has exactly one foreign key to target.
func (s *Schema) isOnlyForeignKey(source, target TableID) bool {
	count := 0
	for _, rid := range s.Tables[source].Forward {
		if s.Relations[rid].Referenced == target {
			count++
		}
	}
	return count == 1
}

func (s *Schema) coveredByKey(table TableID, columns []ColumnID) bool {
	set := make(map[ColumnID]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	for _, kid := range s.Tables[table].KeyIDs {
		covered := true
		for _, c := range s.Keys[kid].Columns {
			if _, ok := set[c]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}

func (s *Schema) keyUsable(k *Key) bool {
	for _, cid := range k.Columns {
		c := &s.Columns[cid]
		if !c.IsExposed() || c.Array || !c.Category.IsOrderable() {
			return false
		}
	}
	return len(k.Columns) > 0
}

func (s *Schema) computeUsable(t *Table) bool {
	exposed := false
	for _, cid := range t.ColumnIDs {
		if s.Columns[cid].IsExposed() {
			exposed = true
			break
		}
	}
	if !exposed {
		return false
	}
	for _, kid := range t.KeyIDs {
		if s.keyUsable(&s.Keys[kid]) {
			return true
		}
	}
	return false
}

func (s *Schema) registerRootFields(t *Table) {
	names := t.RootFields
	for name, kind := range map[string]RootFieldKind{
		names.Single:     RootSingle,
		names.Collection: RootCollection,
		names.Lookup:     RootLookup,
		names.Create:     RootCreate,
		names.CreateMany: RootCreateMany,
		names.Update:     RootUpdate,
		names.UpdateMany: RootUpdateMany,
		names.Delete:     RootDelete,
		names.DeleteMany: RootDeleteMany,
	} {
		if name == "" || (t.ReadOnly && kind.IsMutation()) {
			continue
		}
		s.rootFields[name] = RootField{Table: t.ID, Kind: kind}
	}
}

// Table returns the table with the given ID.
func (s *Schema) Table(id TableID) *Table { return &s.Tables[id] }

// Column returns the column with the given ID.
func (s *Schema) Column(id ColumnID) *Column { return &s.Columns[id] }

// Key returns the key with the given ID.
func (s *Schema) Key(id KeyID) *Key { return &s.Keys[id] }

// Relation returns the relation with the given ID.
func (s *Schema) Relation(id RelationID) *Relation { return &s.Relations[id] }

// Enum returns the enum with the given ID.
func (s *Schema) Enum(id EnumID) *Enum { return &s.Enums[id] }

// FindTable looks a table up by schema and database name. It is valid while
// the schema is being populated.
func (s *Schema) FindTable(schema, name string) (TableID, bool) {
	id, ok := s.tablesByName[qualifiedName(schema, name)]
	return id, ok
}

// FindTableByClientName looks a table up by GraphQL type name.
func (s *Schema) FindTableByClientName(name string) (TableID, bool) {
	id, ok := s.tablesByClient[name]
	return id, ok
}

// FindEnum looks an enum up by schema and database name.
func (s *Schema) FindEnum(schema, name string) (EnumID, bool) {
	id, ok := s.enumsByName[qualifiedName(schema, name)]
	return id, ok
}

// FindRootField resolves a Query or Mutation field name.
func (s *Schema) FindRootField(name string) (RootField, bool) {
	rf, ok := s.rootFields[name]
	return rf, ok
}

// RootFieldNames returns all root field names in sorted order.
func (s *Schema) RootFieldNames() []string {
	names := make([]string, 0, len(s.rootFields))
	for name := range s.rootFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsableTables returns the IDs of tables exposed to clients.
func (s *Schema) UsableTables() []TableID {
	var ids []TableID
	for i := range s.Tables {
		if s.Tables[i].usable {
			ids = append(ids, s.Tables[i].ID)
		}
	}
	return ids
}

// IsClientUsable reports whether a table has at least one exposed column and
// at least one usable key.
func (s *Schema) IsClientUsable(id TableID) bool {
	return s.Tables[id].usable
}

// TableColumns returns the exposed columns of a table in ordinal order.
func (s *Schema) TableColumns(id TableID) []ColumnID {
	var ids []ColumnID
	for _, cid := range s.Tables[id].ColumnIDs {
		if s.Columns[cid].IsExposed() {
			ids = append(ids, cid)
		}
	}
	return ids
}

// TableKeys returns the usable keys of a table, primary key first.
func (s *Schema) TableKeys(id TableID) []KeyID {
	var primary, rest []KeyID
	for _, kid := range s.Tables[id].KeyIDs {
		k := &s.Keys[kid]
		if !s.keyUsable(k) {
			continue
		}
		if k.Primary {
			primary = append(primary, kid)
		} else {
			rest = append(rest, kid)
		}
	}
	return append(primary, rest...)
}

// ImplicitOrderingKey returns the primary key, or else the first usable key.
func (s *Schema) ImplicitOrderingKey(id TableID) (KeyID, bool) {
	keys := s.TableKeys(id)
	if len(keys) == 0 {
		return 0, false
	}
	return keys[0], true
}

// TableRelations returns forward then back relations of a table whose
// referenced table is client-usable.
func (s *Schema) TableRelations(id TableID) []RelationID {
	t := &s.Tables[id]
	var ids []RelationID
	for _, group := range [][]RelationID{t.Forward, t.Back} {
		for _, rid := range group {
			if s.Tables[s.Relations[rid].Referenced].usable {
				ids = append(ids, rid)
			}
		}
	}
	return ids
}

// FindColumnByClientName resolves a GraphQL field name to an exposed column.
func (s *Schema) FindColumnByClientName(table TableID, name string) (ColumnID, bool) {
	id, ok := s.Tables[table].columnsByClient[name]
	return id, ok
}

// FindColumnByName resolves a database column name.
func (s *Schema) FindColumnByName(table TableID, name string) (ColumnID, bool) {
	id, ok := s.Tables[table].columnsByName[name]
	return id, ok
}

// FindRelationByClientName resolves a GraphQL field name to a relation whose
// referenced table is client-usable.
func (s *Schema) FindRelationByClientName(table TableID, name string) (RelationID, bool) {
	id, ok := s.Tables[table].relationsByClient[name]
	if !ok || !s.Tables[s.Relations[id].Referenced].usable {
		return 0, false
	}
	return id, true
}

// FindKeyByClientName resolves a lookup field name to a usable key.
func (s *Schema) FindKeyByClientName(table TableID, name string) (KeyID, bool) {
	id, ok := s.Tables[table].keysByClient[name]
	return id, ok
}

// EnumOf returns the enum of an enum-typed column.
func (s *Schema) EnumOf(c *Column) (*Enum, bool) {
	if c.Enum == NoEnum {
		return nil, false
	}
	return &s.Enums[c.Enum], true
}
