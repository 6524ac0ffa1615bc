// Package sqltype provides a shared mapping from PostgreSQL data types to value
// categories. The categories drive GraphQL scalar selection, value conversion
// and which update operators a column supports.
package sqltype

import "strings"

// Category represents how values of a PostgreSQL type are exchanged with clients.
type Category int

const (
	// Unsupported types are hidden from the GraphQL surface.
	Unsupported Category = iota
	// Int covers smallint and integer.
	Int
	// BigInt covers bigint. Clients may send it as a numeric string.
	BigInt
	// Float covers real and double precision.
	Float
	// Numeric covers arbitrary precision decimals, exchanged as strings.
	Numeric
	// Boolean covers boolean.
	Boolean
	// Text covers the character types and text-like network types.
	Text
	// UUID covers uuid.
	UUID
	// Bytes covers bytea, exchanged as base64.
	Bytes
	// Date covers date.
	Date
	// Timestamp covers timestamp without time zone.
	Timestamp
	// Timestamptz covers timestamp with time zone.
	Timestamptz
	// Time covers time with and without time zone.
	Time
	// Interval covers interval, exchanged in Go duration syntax.
	Interval
	// JSON covers json.
	JSON
	// JSONB covers jsonb.
	JSONB
	// Enum marks user-defined enum types. Classify never returns it; the
	// schema model assigns it when a column references a known enum.
	Enum
)

// aliases maps SQL-standard spellings to pg_type names.
var aliases = map[string]string{
	"smallint":                    "int2",
	"integer":                     "int4",
	"int":                         "int4",
	"bigint":                      "int8",
	"serial":                      "int4",
	"bigserial":                   "int8",
	"smallserial":                 "int2",
	"real":                        "float4",
	"double precision":            "float8",
	"decimal":                     "numeric",
	"boolean":                     "bool",
	"character varying":           "varchar",
	"character":                   "bpchar",
	"char":                        "bpchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

// Normalize strips modifiers such as (10,2), resolves SQL-standard aliases and
// reports whether the name denotes an array type ("_int4" or "integer[]").
func Normalize(typeName string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(typeName))
	isArray := false
	if strings.HasSuffix(name, "[]") {
		name = strings.TrimSuffix(name, "[]")
		isArray = true
	} else if strings.HasPrefix(name, "_") {
		name = name[1:]
		isArray = true
	}
	if idx := strings.Index(name, "("); idx != -1 {
		rest := ""
		if end := strings.Index(name[idx:], ")"); end != -1 {
			rest = name[idx+end+1:]
		}
		name = strings.TrimSpace(name[:idx] + rest)
	}
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	return name, isArray
}

// Classify maps a pg_type name (element type, no array marker) to its category.
func Classify(typeName string) Category {
	name, _ := Normalize(typeName)
	switch name {
	case "int2", "int4", "oid":
		return Int
	case "int8":
		return BigInt
	case "float4", "float8":
		return Float
	case "numeric", "money":
		return Numeric
	case "bool":
		return Boolean
	case "text", "varchar", "bpchar", "name", "citext", "inet", "cidr", "macaddr", "xml":
		return Text
	case "uuid":
		return UUID
	case "bytea":
		return Bytes
	case "date":
		return Date
	case "timestamp":
		return Timestamp
	case "timestamptz":
		return Timestamptz
	case "time", "timetz":
		return Time
	case "interval":
		return Interval
	case "json":
		return JSON
	case "jsonb":
		return JSONB
	default:
		return Unsupported
	}
}

// String returns the GraphQL scalar type name for the category.
func (c Category) String() string {
	switch c {
	case Int:
		return "Int"
	case BigInt:
		return "BigInt"
	case Float:
		return "Float"
	case Numeric:
		return "Decimal"
	case Boolean:
		return "Boolean"
	case UUID:
		return "UUID"
	case Bytes:
		return "Bytes"
	case Date:
		return "Date"
	case Timestamp:
		return "NaiveDateTime"
	case Timestamptz:
		return "DateTime"
	case Time:
		return "Time"
	case Interval:
		return "Interval"
	case JSON, JSONB:
		return "JSON"
	default:
		return "String"
	}
}

// IsNumeric reports whether arithmetic update operators apply.
func (c Category) IsNumeric() bool {
	switch c {
	case Int, BigInt, Float, Numeric:
		return true
	}
	return false
}

// IsJSON reports whether the category is json or jsonb.
func (c Category) IsJSON() bool {
	return c == JSON || c == JSONB
}

// IsOrderable reports whether values have a total order usable for range
// filters, orderBy and cursors.
func (c Category) IsOrderable() bool {
	switch c {
	case Unsupported, JSON, JSONB, Bytes:
		return false
	}
	return true
}
