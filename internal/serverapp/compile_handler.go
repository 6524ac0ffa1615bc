package serverapp

import (
	"net/http"

	"postgres-graphql/internal/gqlrequest"
	"postgres-graphql/internal/planner"
)

// compiledStatement is the dry-run view of one root field.
type compiledStatement struct {
	Field string            `json:"field"`
	Kind  string            `json:"kind,omitempty"`
	SQL   string            `json:"sql,omitempty"`
	Args  []any             `json:"args,omitempty"`
	Cost  *planner.PlanCost `json:"cost,omitempty"`
	Value any               `json:"value,omitempty"`
}

type compileResponse struct {
	Statements []compiledStatement `json:"statements"`
	Errors     []graphQLError      `json:"errors,omitempty"`
}

// CompileHandler returns the SQL and bind arguments a GraphQL request
// compiles to, without executing anything.
func (h *GraphQLHandler) CompileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeResponse(w, r, http.StatusMethodNotAllowed, compileResponse{Errors: []graphQLError{
				newError("compile requires POST", codeMethodNotAllowed),
			}})
			return
		}
		ctx := r.Context()

		analysis := gqlrequest.AnalysisFromContext(ctx)
		if analysis == nil {
			analysis = gqlrequest.AnalyzeRequest(r)
		}
		if err := analysis.Err(); err != nil {
			writeResponse(w, r, http.StatusBadRequest, compileResponse{Errors: []graphQLError{newError(err.Error(), codeBadRequest)}})
			return
		}

		fields, err := h.compile(ctx, analysis)
		if err != nil {
			writeResponse(w, r, http.StatusBadRequest, compileResponse{Errors: []graphQLError{toGraphQLError(ctx, err, nil)}})
			return
		}

		resp := compileResponse{Statements: make([]compiledStatement, 0, len(fields))}
		for _, f := range fields {
			if f.err != nil {
				resp.Errors = append(resp.Errors, toGraphQLError(ctx, f.err, []any{f.key}))
				continue
			}
			stmt := compiledStatement{Field: f.key, Value: f.value}
			if f.plan != nil {
				cost := f.plan.Cost
				stmt.Kind = string(f.plan.Root.Kind)
				stmt.SQL = f.plan.Root.SQL
				stmt.Args = f.plan.Root.Args
				stmt.Cost = &cost
			}
			resp.Statements = append(resp.Statements, stmt)
		}
		writeResponse(w, r, http.StatusOK, resp)
	}
}
