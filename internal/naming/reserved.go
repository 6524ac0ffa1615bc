package naming

import "strings"

// reservedTypeWords are GraphQL keywords, literals and the names of built-in
// or generated scalar and shared types, lowercased.
var reservedTypeWords = []string{
	"query", "mutation", "subscription", "schema", "type", "scalar", "enum",
	"input", "interface", "union", "fragment", "directive", "extend",
	"implements", "on", "true", "false", "null",
	"int", "float", "string", "boolean", "id", "bigint", "naivedatetime",
	"decimal", "uuid", "bytes", "date", "datetime", "time", "interval",
	"json", "pageinfo", "orderdirection",
}

// generatedTypeSuffixes name the per-table input and payload types. A table
// whose snake_case name ends in one would collide with another table's
// generated type, e.g. "user_filter" with the filter type of "users".
var generatedTypeSuffixes = []string{
	"_filter", "_order_by", "_lookup", "_connection", "_edge",
	"_create_input", "_update_input", "_mutation_result", "_batch_mutation_result",
}

func isReservedTypeName(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range reservedTypeWords {
		if lower == word {
			return true
		}
	}
	return strings.HasPrefix(lower, "__") || hasGeneratedSuffix(lower)
}

// Field names only clash with introspection fields and generated suffixes.
func isReservedFieldName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "__") || hasGeneratedSuffix(lower)
}

func hasGeneratedSuffix(snake string) bool {
	for _, suffix := range generatedTypeSuffixes {
		if strings.HasSuffix(snake, suffix) {
			return true
		}
	}
	return false
}
