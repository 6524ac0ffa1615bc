// Package sqlutil quotes PostgreSQL identifiers and literals.
//
// The Quote functions produce text for statements sent to the server as is.
// The Builder functions additionally escape '?' as "??", for text that goes
// through squirrel, which turns every lone '?' into a bind placeholder.
package sqlutil

import "strings"

var placeholderEscaper = strings.NewReplacer("?", "??")

// QuoteIdentifier double-quotes name, doubling embedded double quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes schema.name. An empty schema yields the bare name.
func QuoteQualified(schema, name string) string {
	if schema == "" {
		return QuoteIdentifier(name)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(name)
}

// QuoteString single-quotes s, doubling embedded single quotes. It relies on
// standard_conforming_strings, so backslashes are literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func BuilderIdent(name string) string {
	return placeholderEscaper.Replace(QuoteIdentifier(name))
}

func BuilderQualified(schema, name string) string {
	return placeholderEscaper.Replace(QuoteQualified(schema, name))
}

func BuilderLiteral(s string) string {
	return placeholderEscaper.Replace(QuoteString(s))
}
