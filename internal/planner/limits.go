package planner

import (
	"fmt"
)

// PlanLimits defines cost limits applied during planning.
type PlanLimits struct {
	MaxDepth      int
	MaxComplexity int
	MaxRows       int
}

// PlanCost captures estimated cost for a query.
type PlanCost struct {
	Depth      int `json:"depth"`
	Complexity int `json:"complexity"`
	Rows       int `json:"rows"`
}

// EstimateCost estimates the cost of a compiled selection returning up to
// rows rows. Nested connections multiply by their page size, to-one joins
// by one.
func EstimateCost(plan *SelectionPlan, rows int) PlanCost {
	if plan == nil {
		return PlanCost{}
	}
	return PlanCost{
		Depth:      selectionDepth(plan, 1),
		Complexity: estimateComplexity(plan, rows),
		Rows:       estimateRows(plan, rows),
	}
}

func validateLimits(cost PlanCost, limits PlanLimits) error {
	if limits.MaxDepth > 0 && cost.Depth > limits.MaxDepth {
		return fmt.Errorf("query exceeds maximum depth of %d (depth: %d)", limits.MaxDepth, cost.Depth)
	}
	if limits.MaxComplexity > 0 && cost.Complexity > limits.MaxComplexity {
		return fmt.Errorf("query exceeds maximum complexity of %d (complexity: %d)", limits.MaxComplexity, cost.Complexity)
	}
	if limits.MaxRows > 0 && cost.Rows > limits.MaxRows {
		return fmt.Errorf("query exceeds maximum rows of %d (estimated: %d)", limits.MaxRows, cost.Rows)
	}
	return nil
}

// selectionDepth counts levels of real fields; connection wrappers (edges,
// node, pageInfo) do not add depth.
func selectionDepth(plan *SelectionPlan, current int) int {
	maxDepth := current
	for _, sel := range plan.Selections {
		depth := current + 1
		switch s := sel.(type) {
		case JoinUnique:
			depth = selectionDepth(s.Plan, current+1)
		case JoinMany:
			depth = selectionDepth(s.Plan, current+1)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

func estimateRows(plan *SelectionPlan, limit int) int {
	rows := limit
	for _, sel := range plan.Selections {
		switch s := sel.(type) {
		case JoinUnique:
			rows += limit * estimateRows(s.Plan, 1)
		case JoinMany:
			rows += limit * estimateRows(s.Plan, int(s.Args.PageSize()))
		}
	}
	return rows
}

func estimateComplexity(plan *SelectionPlan, limit int) int {
	complexity := 1
	for _, sel := range plan.Selections {
		switch s := sel.(type) {
		case JoinUnique:
			complexity += limit * estimateComplexity(s.Plan, 1)
		case JoinMany:
			complexity += limit * estimateComplexity(s.Plan, int(s.Args.PageSize()))
		default:
			complexity += limit
		}
	}
	return complexity
}
