package introspection

import (
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"

	"postgres-graphql/internal/naming"
)

// Schema-description directives understood by LoadSDL:
//
//	enum Role @pgEnum(name: "user_role", schema: "public") {
//	  ADMIN @pgEnumVariant(name: "admin")
//	}
//
//	type User @pgTable(name: "users", schema: "public")
//	  @pgKey(name: "users_pkey", fields: ["id"], primary: true) {
//	  id: Int! @pgColumn(name: "id", type: "int4", identity: "always")
//	  role: Role @pgColumn(name: "role")
//	}
//
//	type Post @pgTable(name: "posts") @pgKey(name: "posts_pkey", fields: ["id"], primary: true) {
//	  author: User @pgRelation(name: "posts_author_id_fkey", fields: ["author_id"], references: ["id"])
//	}
//
// A relation field without fields/references names the back side of a
// foreign key declared on the other type. Fields without a directive are ignored.
const (
	directiveTable       = "pgTable"
	directiveColumn      = "pgColumn"
	directiveKey         = "pgKey"
	directiveRelation    = "pgRelation"
	directiveEnum        = "pgEnum"
	directiveEnumVariant = "pgEnumVariant"
)

// scalarDefaults maps GraphQL scalar names to the column type assumed when
// @pgColumn has no type argument.
var scalarDefaults = map[string]string{
	"Int":           "int4",
	"BigInt":        "int8",
	"Float":         "float8",
	"Decimal":       "numeric",
	"String":        "text",
	"ID":            "text",
	"Boolean":       "bool",
	"UUID":          "uuid",
	"Bytes":         "bytea",
	"Date":          "date",
	"DateTime":      "timestamptz",
	"NaiveDateTime": "timestamp",
	"Time":          "time",
	"Interval":      "interval",
	"JSON":          "jsonb",
}

type sdlRelation struct {
	typeName   string
	fieldName  string
	name       string
	fields     []string
	references []string
	target     string
}

// LoadSDL builds a finalized Schema from an SDL document annotated with the
// pg* directives.
func LoadSDL(body string, defaultSchema string, namer *naming.Namer) (*Schema, error) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(body),
			Name: "schema",
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if defaultSchema == "" {
		defaultSchema = "public"
	}

	schema := NewSchema()
	enumsByClient := map[string]EnumID{}

	for _, def := range doc.Definitions {
		enumDef, ok := def.(*ast.EnumDefinition)
		if !ok {
			continue
		}
		dir := findDirective(enumDef.Directives, directiveEnum)
		if dir == nil {
			continue
		}
		args := directiveArgs(dir)
		name := args.str("name", enumDef.Name.Value)
		labels := make([]string, 0, len(enumDef.Values))
		clientNames := make([]string, 0, len(enumDef.Values))
		for _, v := range enumDef.Values {
			label := v.Name.Value
			if vd := findDirective(v.Directives, directiveEnumVariant); vd != nil {
				label = directiveArgs(vd).str("name", label)
			}
			labels = append(labels, label)
			clientNames = append(clientNames, v.Name.Value)
		}
		id := schema.AddEnum(args.str("schema", defaultSchema), name, labels)
		e := &schema.Enums[id]
		e.ClientName = enumDef.Name.Value
		for i := range e.Variants {
			e.Variants[i].ClientName = clientNames[i]
		}
		enumsByClient[e.ClientName] = id
	}

	tablesByClient := map[string]TableID{}
	var objects []*ast.ObjectDefinition
	for _, def := range doc.Definitions {
		obj, ok := def.(*ast.ObjectDefinition)
		if !ok {
			continue
		}
		dir := findDirective(obj.Directives, directiveTable)
		if dir == nil {
			continue
		}
		args := directiveArgs(dir)
		tid := schema.AddTable(args.str("schema", defaultSchema), args.str("name", obj.Name.Value))
		schema.Tables[tid].ClientName = obj.Name.Value
		schema.Tables[tid].IsView = args.boolean("view")
		tablesByClient[obj.Name.Value] = tid
		objects = append(objects, obj)
	}

	var relations []sdlRelation
	for _, obj := range objects {
		tid := tablesByClient[obj.Name.Value]
		for _, field := range obj.Fields {
			named, list, nonNull := unwrapType(field.Type)
			if dir := findDirective(field.Directives, directiveColumn); dir != nil {
				args := directiveArgs(dir)
				col := Column{
					DatabaseName: args.str("name", field.Name.Value),
					ClientName:   field.Name.Value,
					Nullable:     !nonNull,
					Array:        list || args.boolean("array"),
					HasDefault:   args.boolean("default"),
					Generated:    args.boolean("generated"),
				}
				switch args.str("identity", "") {
				case "always":
					col.Identity = IdentityAlways
					col.HasDefault = true
				case "by_default", "byDefault":
					col.Identity = IdentityByDefault
					col.HasDefault = true
				}
				if eid, ok := enumsByClient[named]; ok {
					e := &schema.Enums[eid]
					col.TypeSchema, col.TypeName = e.Schema, e.DatabaseName
				} else {
					col.TypeSchema = args.str("schema", "pg_catalog")
					col.TypeName = args.str("type", scalarDefaults[named])
				}
				if col.TypeName == "" {
					return nil, fmt.Errorf("%s.%s: cannot infer column type from %s", obj.Name.Value, field.Name.Value, named)
				}
				schema.AddColumn(tid, col)
				continue
			}
			if dir := findDirective(field.Directives, directiveRelation); dir != nil {
				args := directiveArgs(dir)
				relations = append(relations, sdlRelation{
					typeName:   obj.Name.Value,
					fieldName:  field.Name.Value,
					name:       args.str("name", ""),
					fields:     args.strings("fields"),
					references: args.strings("references"),
					target:     named,
				})
			}
		}

		for _, dir := range obj.Directives {
			if dir.Name == nil || dir.Name.Value != directiveKey {
				continue
			}
			args := directiveArgs(dir)
			if _, err := schema.AddKey(tid, args.str("name", ""), args.strings("fields"), args.boolean("primary")); err != nil {
				return nil, fmt.Errorf("%s: %w", obj.Name.Value, err)
			}
		}
	}

	// Forward relations declare the constraint; back-side declarations only
	// carry a client name and are applied once the forward side exists.
	backNames := map[string]string{}
	for _, rel := range relations {
		if len(rel.fields) == 0 {
			backNames[rel.name+"\x00"+rel.typeName] = rel.fieldName
			continue
		}
		source := tablesByClient[rel.typeName]
		target, ok := tablesByClient[rel.target]
		if !ok {
			return nil, fmt.Errorf("%s.%s: relation target %s is not a table", rel.typeName, rel.fieldName, rel.target)
		}
		if rel.name == "" {
			return nil, fmt.Errorf("%s.%s: relation requires a name", rel.typeName, rel.fieldName)
		}
		if err := schema.AddForeignKey(rel.name, source, rel.fields, target, rel.references); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rel.typeName, rel.fieldName, err)
		}
		schema.Relations[len(schema.Relations)-2].ClientName = rel.fieldName
	}
	for i := range schema.Relations {
		r := &schema.Relations[i]
		if r.Forward {
			continue
		}
		if name, ok := backNames[r.Name+"\x00"+schema.Tables[r.Table].ClientName]; ok {
			r.ClientName = name
		}
	}

	if err := schema.Finalize(namer); err != nil {
		return nil, err
	}
	return schema, nil
}

func findDirective(directives []*ast.Directive, name string) *ast.Directive {
	for _, d := range directives {
		if d != nil && d.Name != nil && d.Name.Value == name {
			return d
		}
	}
	return nil
}

type argMap map[string]ast.Value

func directiveArgs(d *ast.Directive) argMap {
	args := argMap{}
	for _, a := range d.Arguments {
		if a != nil && a.Name != nil {
			args[a.Name.Value] = a.Value
		}
	}
	return args
}

func (a argMap) str(name, fallback string) string {
	switch v := a[name].(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	}
	return fallback
}

func (a argMap) boolean(name string) bool {
	switch v := a[name].(type) {
	case *ast.BooleanValue:
		return v.Value
	case *ast.StringValue:
		b, _ := strconv.ParseBool(v.Value)
		return b
	}
	return false
}

func (a argMap) strings(name string) []string {
	switch v := a[name].(type) {
	case *ast.ListValue:
		out := make([]string, 0, len(v.Values))
		for _, item := range v.Values {
			if s, ok := item.(*ast.StringValue); ok {
				out = append(out, s.Value)
			}
		}
		return out
	case *ast.StringValue:
		return []string{v.Value}
	}
	return nil
}

// unwrapType returns the named type, whether a list wraps it and whether the
// outermost type is non-null.
func unwrapType(t ast.Type) (named string, list, nonNull bool) {
	if nn, ok := t.(*ast.NonNull); ok {
		nonNull = true
		t = nn.Type
	}
	if l, ok := t.(*ast.List); ok {
		list = true
		t = l.Type
		if nn, ok := t.(*ast.NonNull); ok {
			t = nn.Type
		}
	}
	if n, ok := t.(*ast.Named); ok && n.Name != nil {
		named = n.Name.Value
	}
	return named, list, nonNull
}
