package sqlir

import (
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"postgres-graphql/internal/sqlutil"
)

// Order is a sort direction with explicit NULL placement.
type Order int

const (
	Asc Order = iota
	Desc
	AscNullsFirst
	AscNullsLast
	DescNullsFirst
	DescNullsLast
)

func (o Order) String() string {
	switch o {
	case Asc:
		return "ASC"
	case Desc:
		return "DESC"
	case AscNullsFirst:
		return "ASC NULLS FIRST"
	case AscNullsLast:
		return "ASC NULLS LAST"
	case DescNullsFirst:
		return "DESC NULLS FIRST"
	case DescNullsLast:
		return "DESC NULLS LAST"
	}
	return "ASC"
}

// Reverse flips the direction and keeps the NULL placement.
func (o Order) Reverse() Order {
	switch o {
	case Asc:
		return Desc
	case Desc:
		return Asc
	case AscNullsFirst:
		return DescNullsFirst
	case AscNullsLast:
		return DescNullsLast
	case DescNullsFirst:
		return AscNullsFirst
	case DescNullsLast:
		return AscNullsLast
	}
	return o
}

// IsDescending reports whether rows are sorted from high to low.
func (o Order) IsDescending() bool {
	return o == Desc || o == DescNullsFirst || o == DescNullsLast
}

// Ordering is one ORDER BY item.
type Ordering struct {
	Expr  Expression
	Order Order
}

func (o Ordering) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr(o.Expr, " "+o.Order.String()).ToSql()
}

// TableSource is anything that can appear in a FROM or JOIN clause.
type TableSource interface {
	sq.Sqlizer
	isTableSource()
}

// Table is a named relation, optionally schema-qualified and aliased.
type Table struct {
	Schema string
	Name   string
	Alias  string
}

func (Table) isTableSource() {}

func (t Table) ToSql() (string, []interface{}, error) {
	sql := sqlutil.BuilderQualified(t.Schema, t.Name)
	if t.Alias != "" {
		sql += " AS " + sqlutil.BuilderIdent(t.Alias)
	}
	return sql, nil, nil
}

// Derived is a subquery in FROM position. Lateral subqueries may reference
// columns of sources to their left.
type Derived struct {
	Select  *Select
	Alias   string
	Lateral bool
}

func (Derived) isTableSource() {}

func (d Derived) ToSql() (string, []interface{}, error) {
	if d.Select == nil {
		return "", nil, fmt.Errorf("derived table %s has no query", d.Alias)
	}
	prefix := "("
	if d.Lateral {
		prefix = "LATERAL ("
	}
	return sq.ConcatExpr(prefix, d.Select, ") AS "+sqlutil.BuilderIdent(d.Alias)).ToSql()
}

// FuncTable is a set-returning function call such as unnest(...), with an
// optional column alias list and WITH ORDINALITY.
type FuncTable struct {
	Func           Expression
	Alias          string
	Columns        []string
	WithOrdinality bool
}

func (FuncTable) isTableSource() {}

func (f FuncTable) ToSql() (string, []interface{}, error) {
	suffix := ""
	if f.WithOrdinality {
		suffix = " WITH ORDINALITY"
	}
	suffix += " AS " + sqlutil.BuilderIdent(f.Alias)
	if len(f.Columns) > 0 {
		suffix += "(" + quoteList(f.Columns) + ")"
	}
	return sq.ConcatExpr(f.Func, suffix).ToSql()
}

// JoinKind selects the join type.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	CrossJoin
)

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "LEFT JOIN"
	case CrossJoin:
		return "CROSS JOIN"
	}
	return "INNER JOIN"
}

// Join attaches a source to the FROM clause. On is ignored for cross joins
// and defaults to TRUE otherwise.
type Join struct {
	Kind   JoinKind
	Source TableSource
	On     Condition
}

func (j Join) ToSql() (string, []interface{}, error) {
	if j.Kind == CrossJoin {
		return sq.ConcatExpr(j.Kind.String()+" ", j.Source).ToSql()
	}
	var on Condition = NoCondition{}
	if j.On != nil {
		on = j.On
	}
	return sq.ConcatExpr(j.Kind.String()+" ", j.Source, " ON ", on).ToSql()
}

// CTE is one WITH item. The statement may be any Sqlizer, including squirrel
// insert, update and delete builders.
type CTE struct {
	Name      string
	Statement sq.Sqlizer
}

// Select is a SELECT statement.
type Select struct {
	With     []CTE
	Distinct bool
	Columns  []Expression
	From     TableSource
	Joins    []Join
	Where    Condition
	GroupBy  []Expression
	OrderBy  []Ordering
	Limit    *uint64
	Offset   *uint64
}

// Column appends projections and returns the statement for chaining.
func (s *Select) Column(exprs ...Expression) *Select {
	s.Columns = append(s.Columns, exprs...)
	return s
}

// Join appends a join and returns the statement for chaining.
func (s *Select) Join(kind JoinKind, source TableSource, on Condition) *Select {
	s.Joins = append(s.Joins, Join{Kind: kind, Source: source, On: on})
	return s
}

// AndWhere conjoins cond onto the existing WHERE condition.
func (s *Select) AndWhere(cond Condition) *Select {
	s.Where = And(s.Where, cond)
	return s
}

// SetLimit sets the LIMIT.
func (s *Select) SetLimit(n uint64) *Select {
	s.Limit = &n
	return s
}

func (s *Select) ToSql() (string, []interface{}, error) {
	if s == nil {
		return "", nil, fmt.Errorf("nil select")
	}
	if len(s.Columns) == 0 {
		return "", nil, fmt.Errorf("select statement requires at least one column")
	}

	parts := make([]interface{}, 0, 16)
	if len(s.With) > 0 {
		parts = append(parts, "WITH ")
		for i, cte := range s.With {
			if i > 0 {
				parts = append(parts, ", ")
			}
			parts = append(parts, sqlutil.BuilderIdent(cte.Name)+" AS (", cte.Statement, ")")
		}
		parts = append(parts, " ")
	}

	if s.Distinct {
		parts = append(parts, "SELECT DISTINCT ")
	} else {
		parts = append(parts, "SELECT ")
	}
	parts = append(parts, joinParts("", toAny(s.Columns), ", ", "")...)

	if s.From != nil {
		parts = append(parts, " FROM ", s.From)
	}
	for _, j := range s.Joins {
		parts = append(parts, " ", j)
	}
	if s.Where != nil {
		if _, always := s.Where.(NoCondition); !always {
			parts = append(parts, " WHERE ", s.Where)
		}
	}
	if len(s.GroupBy) > 0 {
		parts = append(parts, " GROUP BY ")
		parts = append(parts, joinParts("", toAny(s.GroupBy), ", ", "")...)
	}
	if len(s.OrderBy) > 0 {
		parts = append(parts, " ORDER BY ")
		parts = append(parts, joinParts("", toAny(s.OrderBy), ", ", "")...)
	}
	if s.Limit != nil {
		parts = append(parts, " LIMIT "+strconv.FormatUint(*s.Limit, 10))
	}
	if s.Offset != nil {
		parts = append(parts, " OFFSET "+strconv.FormatUint(*s.Offset, 10))
	}
	return sq.ConcatExpr(parts...).ToSql()
}
