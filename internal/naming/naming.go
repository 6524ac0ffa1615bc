// Package naming derives GraphQL names from PostgreSQL catalog names: type
// and field names, relation fields, key lookup fields, enum values and root
// fields. It handles pluralization, reserved words and collisions.
package naming

import (
	"log/slog"
	"strings"
	"unicode"
)

// Namer provides all name transformation functions for converting PostgreSQL
// names to GraphQL names. It handles pluralization, reserved words, and collisions.
type Namer struct {
	config Config
	logger *slog.Logger
	names  *registry
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
		names:  newRegistry(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset forgets every registered name so the namer can serve a new schema
// build.
func (n *Namer) Reset() {
	n.names = newRegistry(n.logger)
}

// ToGraphQLTypeName converts a table name to a singular GraphQL type (PascalCase).
// Example: "user_profiles" -> "UserProfile"
func (n *Namer) ToGraphQLTypeName(tableName string) string {
	singular := n.singularizeLast(tableName)
	name := toPascalCase(singular)
	// Generated suffixes are checked on the snake_case name since PascalCase
	// loses the word boundaries.
	if hasGeneratedSuffix(strings.ToLower(singular)) {
		n.logger.Warn("GraphQL name conflicts with a generated type name, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", name+"_"),
		)
		return name + "_"
	}
	return n.validateTypeAndSuffix(name)
}

// ToGraphQLFieldName converts a column name to a GraphQL field (camelCase)
// Example: "user_name" -> "userName"
func (n *Namer) ToGraphQLFieldName(columnName string) string {
	return toCamelCase(columnName)
}

// ForwardRelationFieldName names the to-one field on the table holding the
// foreign key. Single-column keys use the column name with common FK suffixes
// stripped; composite keys use the singular referenced table name.
// Example: ["author_id"] -> "author", ["org_id","team_id"] on teams -> "team"
func (n *Namer) ForwardRelationFieldName(fkColumns []string, referencedTable string) string {
	if len(fkColumns) == 1 {
		name := fkColumns[0]
		for _, suffix := range []string{"_id", "_fk"} {
			if strings.HasSuffix(strings.ToLower(name), suffix) && len(name) > len(suffix) {
				name = name[:len(name)-len(suffix)]
				break
			}
		}
		return n.ToGraphQLFieldName(name)
	}
	return lowerFirst(n.ToGraphQLTypeName(referencedTable))
}

// BackRelationFieldName names the field on the referenced table. To-many
// relations use the plural source table name, to-one relations the singular.
// When the source table has several foreign keys to the same table, the name
// is prefixed with the forward field name for disambiguation.
// Example: isOnlyFK=false, fkColumns=["author_id"], "posts" -> "authorPosts"
func (n *Namer) BackRelationFieldName(sourceTable string, fkColumns []string, isOnlyFK, unique bool) string {
	base := lowerFirst(n.ToGraphQLTypeName(sourceTable))
	if !unique {
		base = n.Pluralize(base)
	}
	if isOnlyFK {
		return base
	}
	prefix := n.ForwardRelationFieldName(fkColumns, sourceTable)
	return prefix + upperFirst(base)
}

// KeyClientName joins the client names of a key's columns in camelCase.
// Example: ["name", "email"] -> "nameEmail"
func (n *Namer) KeyClientName(columnClientNames []string) string {
	var b strings.Builder
	for i, name := range columnClientNames {
		if i == 0 {
			b.WriteString(name)
			continue
		}
		b.WriteString(upperFirst(name))
	}
	return b.String()
}

// EnumVariantName converts a database enum label to an UPPER_SNAKE GraphQL
// enum value. Labels that cannot start a GraphQL name get a leading underscore.
// Example: "in progress" -> "IN_PROGRESS"
func (n *Namer) EnumVariantName(label string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range label {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.TrimSuffix(b.String(), "_")
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "_" + name
	}
	return name
}

// RootFieldNames holds the generated root field names for one table.
type RootFieldNames struct {
	Single     string // user
	Collection string // users
	Lookup     string // userLookup
	Create     string // userCreate
	CreateMany string // userCreateMany
	Update     string // userUpdate
	UpdateMany string // userUpdateMany
	Delete     string // userDelete
	DeleteMany string // userDeleteMany
}

// RootFields derives root field names from a table's GraphQL type name.
func (n *Namer) RootFields(typeName string) RootFieldNames {
	single := lowerFirst(typeName)
	collection := n.Pluralize(single)
	if collection == single {
		collection = single + "Collection"
	}
	return RootFieldNames{
		Single:     single,
		Collection: collection,
		Lookup:     single + "Lookup",
		Create:     single + "Create",
		CreateMany: single + "CreateMany",
		Update:     single + "Update",
		UpdateMany: single + "UpdateMany",
		Delete:     single + "Delete",
		DeleteMany: single + "DeleteMany",
	}
}

// RegisterType registers a table name and returns the resolved GraphQL type name.
// If a collision occurs, returns a suffixed name and logs a warning.
func (n *Namer) RegisterType(tableName string) string {
	graphqlName := n.ToGraphQLTypeName(tableName)
	return n.names.claim(typeScope, graphqlName, "table:"+tableName)
}

// RegisterEnumType registers an enum type name.
func (n *Namer) RegisterEnumType(enumName string) string {
	graphqlName := n.validateTypeAndSuffix(toPascalCase(enumName))
	return n.names.claim(typeScope, graphqlName, "enum:"+enumName)
}

// RegisterColumnField registers a column field and returns the resolved field name.
// Columns always win in precedence, so this establishes the field name.
func (n *Namer) RegisterColumnField(typeName, columnName string) string {
	fieldName := n.validateFieldAndSuffix(n.ToGraphQLFieldName(columnName))
	return n.names.claim(fieldScope(typeName), fieldName, "column:"+columnName)
}

// RegisterRelationField registers a relation field and returns the resolved name.
// If the field collides with a column, applies a suffix (Ref for forward, Rel for back).
func (n *Namer) RegisterRelationField(typeName, fieldName, source string, forward bool) string {
	fieldName = n.validateFieldAndSuffix(fieldName)
	if n.names.taken(fieldScope(typeName), fieldName) {
		if forward {
			fieldName = fieldName + "Ref"
		} else {
			fieldName = fieldName + "Rel"
		}
	}
	fieldName = n.validateFieldAndSuffix(fieldName)
	return n.names.claim(fieldScope(typeName), fieldName, "relation:"+source)
}

// RegisterKeyField registers the lookup field for a composite key. Keys share
// the lookup input namespace with columns.
func (n *Namer) RegisterKeyField(typeName string, columnClientNames []string, constraint string) string {
	fieldName := n.validateFieldAndSuffix(n.KeyClientName(columnClientNames))
	return n.names.claim(fieldScope(typeName+"Lookup"), fieldName, "key:"+constraint)
}

// RegisterRootFields registers every root field of a table and returns the
// resolved names.
func (n *Namer) RegisterRootFields(typeName, tableName string) RootFieldNames {
	names := n.RootFields(typeName)
	register := func(name string) string {
		return n.names.claim(rootScope, n.validateFieldAndSuffix(name), "table:"+tableName)
	}
	return RootFieldNames{
		Single:     register(names.Single),
		Collection: register(names.Collection),
		Lookup:     register(names.Lookup),
		Create:     register(names.Create),
		CreateMany: register(names.CreateMany),
		Update:     register(names.Update),
		UpdateMany: register(names.UpdateMany),
		Delete:     register(names.Delete),
		DeleteMany: register(names.DeleteMany),
	}
}

func (n *Namer) singularizeLast(tableName string) string {
	idx := strings.LastIndex(tableName, "_")
	if idx == -1 {
		return n.Singularize(tableName)
	}
	return tableName[:idx+1] + n.Singularize(tableName[idx+1:])
}

func (n *Namer) validateTypeAndSuffix(name string) string {
	if isReservedTypeName(name) {
		safeName := name + "_"
		n.logger.Warn("GraphQL name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

func (n *Namer) validateFieldAndSuffix(name string) string {
	if isReservedFieldName(name) {
		safeName := name + "_"
		n.logger.Warn("GraphQL name conflicts with reserved word, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", safeName),
		)
		return safeName
	}
	return name
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		parts[i] = upperFirst(part)
	}
	return strings.Join(parts, "")
}

// toCamelCase converts snake_case to camelCase
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		parts[i] = upperFirst(parts[i])
	}
	return strings.Join(parts, "")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
