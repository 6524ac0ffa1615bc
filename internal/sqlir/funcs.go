package sqlir

import (
	"strconv"

	sq "github.com/Masterminds/squirrel"
)

// maxBuildObjectPairs keeps json(b)_build_object calls under the 100-argument
// function limit.
const maxBuildObjectPairs = 50

// Func is a function call name(args...). Aggregates may carry an ORDER BY
// inside the argument list.
type Func struct {
	Name    string
	Args    []Expression
	OrderBy []Ordering
}

func (f Func) ToSql() (string, []interface{}, error) {
	parts := joinParts(f.Name+"(", toAny(f.Args), ", ", "")
	if len(f.OrderBy) > 0 {
		parts = append(parts, " ORDER BY ")
		parts = append(parts, joinParts("", toAny(f.OrderBy), ", ", "")...)
	}
	parts = append(parts, ")")
	return sq.ConcatExpr(parts...).ToSql()
}

// Call builds a plain function call.
func Call(name string, args ...Expression) Func {
	return Func{Name: name, Args: args}
}

// Pair is one key/value argument pair of a JSON object builder.
type Pair struct {
	Key   string
	Value Expression
}

// RowToJSON renders row_to_json("alias").
func RowToJSON(alias string) Func {
	return Call("row_to_json", TableRef(alias))
}

// JSONBAgg renders jsonb_agg(expr ORDER BY ...).
func JSONBAgg(expr Expression, orderBy ...Ordering) Func {
	return Func{Name: "jsonb_agg", Args: []Expression{expr}, OrderBy: orderBy}
}

// JSONAgg renders json_agg(expr ORDER BY ...).
func JSONAgg(expr Expression, orderBy ...Ordering) Func {
	return Func{Name: "json_agg", Args: []Expression{expr}, OrderBy: orderBy}
}

// Coalesce renders coalesce(exprs...).
func Coalesce(exprs ...Expression) Func {
	return Call("coalesce", exprs...)
}

// CountStar renders count(*).
func CountStar() Raw {
	return Raw{SQL: "count(*)"}
}

// Unnest renders unnest(arrays...).
func Unnest(arrays ...Expression) Func {
	return Call("unnest", arrays...)
}

// JSONBuildArray renders jsonb_build_array(exprs...).
func JSONBuildArray(exprs ...Expression) Func {
	return Call("jsonb_build_array", exprs...)
}

// JSONBuildObject renders json_build_object with the given pairs.
func JSONBuildObject(pairs ...Pair) Func {
	return Call("json_build_object", pairArgs(pairs)...)
}

// JSONBBuildObject renders jsonb_build_object with the given pairs. More
// than maxBuildObjectPairs pairs are split into several calls joined with ||.
func JSONBBuildObject(pairs ...Pair) Expression {
	if len(pairs) <= maxBuildObjectPairs {
		return Call("jsonb_build_object", pairArgs(pairs)...)
	}
	var chunks []Expression
	for start := 0; start < len(pairs); start += maxBuildObjectPairs {
		end := start + maxBuildObjectPairs
		if end > len(pairs) {
			end = len(pairs)
		}
		chunks = append(chunks, Call("jsonb_build_object", pairArgs(pairs[start:end])...))
	}
	return concatChain(chunks)
}

// EmptyJSONBArray is the jsonb literal [].
func EmptyJSONBArray() Cast {
	return CastAs(Literal("[]"), TypeName{Name: "jsonb"})
}

// JSONBNull is the jsonb literal null.
func JSONBNull() Cast {
	return CastAs(Literal("null"), TypeName{Name: "jsonb"})
}

// JSONElement renders expr -> index.
type JSONElement struct {
	Expr  Expression
	Index int
}

func (j JSONElement) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("(", j.Expr, ") -> ", Raw{SQL: strconv.Itoa(j.Index)}).ToSql()
}

func pairArgs(pairs []Pair) []Expression {
	args := make([]Expression, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, Literal(p.Key), p.Value)
	}
	return args
}

func concatChain(exprs []Expression) Expression {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = Binary{Left: out, Op: "||", Right: e}
	}
	return out
}
