// Package sqlir is a small typed PostgreSQL statement tree. Nodes implement
// squirrel's Sqlizer with "?" placeholders; Render numbers them for PostgreSQL.
// Client-supplied values only ever appear as bound parameters.
package sqlir

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"postgres-graphql/internal/sqlutil"
)

// Expression is any SQL value expression.
type Expression interface {
	sq.Sqlizer
}

// Column references a column, optionally qualified by a table alias.
type Column struct {
	Table string
	Name  string
}

// Col builds a qualified column reference.
func Col(table, name string) Column {
	return Column{Table: table, Name: name}
}

func (c Column) ToSql() (string, []interface{}, error) {
	if c.Table == "" {
		return sqlutil.BuilderIdent(c.Name), nil, nil
	}
	return sqlutil.BuilderIdent(c.Table) + "." + sqlutil.BuilderIdent(c.Name), nil, nil
}

// TableRef references a whole row of a table alias, as in row_to_json("t").
type TableRef string

func (t TableRef) ToSql() (string, []interface{}, error) {
	return sqlutil.BuilderIdent(string(t)), nil, nil
}

// Param is a bound parameter.
type Param struct {
	Value any
}

// Value wraps v as a bound parameter.
func Value(v any) Param {
	return Param{Value: v}
}

func (p Param) ToSql() (string, []interface{}, error) {
	return "?", []interface{}{p.Value}, nil
}

// Literal is a constant string literal. It is only used for schema-derived
// text such as JSON object keys, never for client input.
type Literal string

func (l Literal) ToSql() (string, []interface{}, error) {
	return sqlutil.BuilderLiteral(string(l)), nil, nil
}

// Raw is a trusted SQL fragment with optional arguments.
type Raw struct {
	SQL  string
	Args []any
}

func (r Raw) ToSql() (string, []interface{}, error) {
	return r.SQL, r.Args, nil
}

var (
	// True is the boolean literal TRUE.
	True = Raw{SQL: "TRUE"}
	// False is the boolean literal FALSE.
	False = Raw{SQL: "FALSE"}
	// Null is the SQL NULL literal.
	Null = Raw{SQL: "NULL"}
)

// TypeName identifies a database type for casts.
type TypeName struct {
	Schema string
	Name   string
	Array  bool
}

func (t TypeName) String() string {
	name := sqlutil.BuilderQualified(t.Schema, t.Name)
	if t.Array {
		name += "[]"
	}
	return name
}

// Cast renders CAST(expr AS type).
type Cast struct {
	Expr Expression
	Type TypeName
}

// CastAs wraps expr in a cast to the given type.
func CastAs(expr Expression, typ TypeName) Cast {
	return Cast{Expr: expr, Type: typ}
}

func (c Cast) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("CAST(", c.Expr, " AS "+c.Type.String()+")").ToSql()
}

// EnumValue is a parameter tagged with its enum type so it renders with a cast.
type EnumValue struct {
	Value any
	Type  TypeName
}

func (e EnumValue) ToSql() (string, []interface{}, error) {
	return Cast{Expr: Param{Value: e.Value}, Type: e.Type}.ToSql()
}

// Binary renders an infix operator expression, parenthesised.
type Binary struct {
	Left  Expression
	Op    string
	Right Expression
}

func (b Binary) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("(", b.Left, " "+b.Op+" ", b.Right, ")").ToSql()
}

// Aliased renders expr AS "alias".
type Aliased struct {
	Expr  Expression
	Alias string
}

// As aliases an expression.
func As(expr Expression, alias string) Aliased {
	return Aliased{Expr: expr, Alias: alias}
}

func (a Aliased) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr(a.Expr, " AS "+sqlutil.BuilderIdent(a.Alias)).ToSql()
}

// Array renders ARRAY[e1, e2, ...].
type Array []Expression

func (a Array) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr(joinParts("ARRAY[", toAny(a), ", ", "]")...).ToSql()
}

// List renders a parenthesised expression list, as used by IN.
type List []Expression

func (l List) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr(joinParts("(", toAny(l), ", ", ")")...).ToSql()
}

// Subquery renders a statement in parentheses so it can be used as a value.
type Subquery struct {
	Select *Select
}

func (s Subquery) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("(", s.Select, ")").ToSql()
}

// When is a single CASE branch.
type When struct {
	Cond Condition
	Then Expression
}

// Case renders CASE WHEN ... THEN ... ELSE ... END.
type Case struct {
	Whens []When
	Else  Expression
}

func (c Case) ToSql() (string, []interface{}, error) {
	if len(c.Whens) == 0 {
		return "", nil, fmt.Errorf("case expression requires at least one branch")
	}
	parts := []interface{}{"CASE"}
	for _, w := range c.Whens {
		parts = append(parts, " WHEN ", w.Cond, " THEN ", w.Then)
	}
	if c.Else != nil {
		parts = append(parts, " ELSE ", c.Else)
	}
	parts = append(parts, " END")
	return sq.ConcatExpr(parts...).ToSql()
}

func toAny[T sq.Sqlizer](items []T) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// joinParts interleaves items with sep and wraps them with open/close so the
// result can be handed to sq.ConcatExpr.
func joinParts(open string, items []interface{}, sep, close string) []interface{} {
	parts := make([]interface{}, 0, len(items)*2+2)
	parts = append(parts, open)
	for i, item := range items {
		if i > 0 {
			parts = append(parts, sep)
		}
		parts = append(parts, item)
	}
	parts = append(parts, close)
	return parts
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = sqlutil.BuilderIdent(name)
	}
	return strings.Join(quoted, ", ")
}
