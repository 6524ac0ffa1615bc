package sqlir

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Condition is a boolean expression usable in WHERE, ON and CASE.
type Condition interface {
	Expression
	isCondition()
}

// NoCondition is the always-true condition. WHERE clauses omit it.
type NoCondition struct{}

func (NoCondition) isCondition() {}

func (NoCondition) ToSql() (string, []interface{}, error) {
	return "TRUE", nil, nil
}

// NegativeCondition is the always-false condition.
type NegativeCondition struct{}

func (NegativeCondition) isCondition() {}

func (NegativeCondition) ToSql() (string, []interface{}, error) {
	return "FALSE", nil, nil
}

// AndCondition is a conjunction. Build it with And.
type AndCondition []Condition

func (AndCondition) isCondition() {}

func (a AndCondition) ToSql() (string, []interface{}, error) {
	return sq.And(sqlizers(a)).ToSql()
}

// OrCondition is a disjunction. Build it with Or.
type OrCondition []Condition

func (OrCondition) isCondition() {}

func (o OrCondition) ToSql() (string, []interface{}, error) {
	return sq.Or(sqlizers(o)).ToSql()
}

// NotCondition negates its operand. Build it with Not.
type NotCondition struct {
	Cond Condition
}

func (NotCondition) isCondition() {}

func (n NotCondition) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("NOT (", n.Cond, ")").ToSql()
}

// ExistsCondition renders EXISTS (subquery).
type ExistsCondition struct {
	Select *Select
}

func (ExistsCondition) isCondition() {}

func (e ExistsCondition) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr("EXISTS (", e.Select, ")").ToSql()
}

// Exists wraps a subquery in EXISTS.
func Exists(sel *Select) Condition {
	return ExistsCondition{Select: sel}
}

// And conjoins conditions. TRUE operands are dropped, any FALSE operand makes
// the whole conjunction FALSE, nested conjunctions are flattened and a single
// remaining operand is returned as-is.
func And(conds ...Condition) Condition {
	out := make(AndCondition, 0, len(conds))
	for _, c := range conds {
		switch v := c.(type) {
		case nil, NoCondition:
			continue
		case NegativeCondition:
			return NegativeCondition{}
		case AndCondition:
			out = append(out, v...)
		default:
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return NoCondition{}
	case 1:
		return out[0]
	}
	return out
}

// Or disjoins conditions with the dual simplifications of And. An empty
// disjunction is FALSE.
func Or(conds ...Condition) Condition {
	out := make(OrCondition, 0, len(conds))
	for _, c := range conds {
		switch v := c.(type) {
		case nil, NegativeCondition:
			continue
		case NoCondition:
			return NoCondition{}
		case OrCondition:
			out = append(out, v...)
		default:
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return NegativeCondition{}
	case 1:
		return out[0]
	}
	return out
}

// Not negates a condition. Double negation cancels.
func Not(c Condition) Condition {
	switch v := c.(type) {
	case nil, NoCondition:
		return NegativeCondition{}
	case NegativeCondition:
		return NoCondition{}
	case NotCondition:
		return v.Cond
	}
	return NotCondition{Cond: c}
}

// CompareOp enumerates the comparison operators.
type CompareOp int

const (
	Equals CompareOp = iota
	NotEquals
	LessThan
	LessThanOrEquals
	GreaterThan
	GreaterThanOrEquals
	In
	NotIn
	Like
	NotLike
	Contains
	ContainedBy
	Overlaps
	IsNotDistinctFrom
	Any
	All
)

func (op CompareOp) sql() (string, error) {
	switch op {
	case Equals:
		return "=", nil
	case NotEquals:
		return "<>", nil
	case LessThan:
		return "<", nil
	case LessThanOrEquals:
		return "<=", nil
	case GreaterThan:
		return ">", nil
	case GreaterThanOrEquals:
		return ">=", nil
	case In:
		return "IN", nil
	case NotIn:
		return "NOT IN", nil
	case Like:
		return "LIKE", nil
	case NotLike:
		return "NOT LIKE", nil
	case Contains:
		return "@>", nil
	case ContainedBy:
		return "<@", nil
	case Overlaps:
		return "&&", nil
	case IsNotDistinctFrom:
		return "IS NOT DISTINCT FROM", nil
	case Any:
		return "= ANY", nil
	case All:
		return "<> ALL", nil
	}
	return "", fmt.Errorf("unknown comparison operator %d", int(op))
}

// Compare is a binary comparison.
type Compare struct {
	Left  Expression
	Op    CompareOp
	Right Expression
}

func (Compare) isCondition() {}

func (c Compare) ToSql() (string, []interface{}, error) {
	op, err := c.Op.sql()
	if err != nil {
		return "", nil, err
	}
	if c.Op == Any || c.Op == All {
		return sq.ConcatExpr(c.Left, " "+op+"(", c.Right, ")").ToSql()
	}
	return sq.ConcatExpr(c.Left, " "+op+" ", c.Right).ToSql()
}

// Eq builds left = right.
func Eq(left, right Expression) Compare {
	return Compare{Left: left, Op: Equals, Right: right}
}

// NullCheck renders expr IS [NOT] NULL.
type NullCheck struct {
	Expr    Expression
	Negated bool
}

func (NullCheck) isCondition() {}

func (n NullCheck) ToSql() (string, []interface{}, error) {
	if n.Negated {
		return sq.ConcatExpr(n.Expr, " IS NOT NULL").ToSql()
	}
	return sq.ConcatExpr(n.Expr, " IS NULL").ToSql()
}

// IsNull builds expr IS NULL.
func IsNull(expr Expression) NullCheck {
	return NullCheck{Expr: expr}
}

// IsNotNull builds expr IS NOT NULL.
func IsNotNull(expr Expression) NullCheck {
	return NullCheck{Expr: expr, Negated: true}
}

// Between renders expr BETWEEN low AND high.
type Between struct {
	Expr Expression
	Low  Expression
	High Expression
}

func (Between) isCondition() {}

func (b Between) ToSql() (string, []interface{}, error) {
	return sq.ConcatExpr(b.Expr, " BETWEEN ", b.Low, " AND ", b.High).ToSql()
}

// BoolExpr adapts a boolean-valued expression to a Condition.
type BoolExpr struct {
	Expr Expression
}

func (BoolExpr) isCondition() {}

func (b BoolExpr) ToSql() (string, []interface{}, error) {
	return b.Expr.ToSql()
}

func sqlizers(conds []Condition) []sq.Sqlizer {
	out := make([]sq.Sqlizer, len(conds))
	for i, c := range conds {
		out[i] = c
	}
	return out
}
