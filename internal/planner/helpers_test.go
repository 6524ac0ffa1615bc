package planner

import (
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/require"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/testutil/fixture"
)

// parseRootField parses a one-field operation and returns its root field
// together with the document's fragment definitions.
func parseRootField(t *testing.T, query string) (*ast.Field, map[string]*ast.FragmentDefinition) {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "test"}),
	})
	require.NoError(t, err)

	var op *ast.OperationDefinition
	fragments := map[string]*ast.FragmentDefinition{}
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			op = d
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		}
	}
	require.NotNil(t, op)
	require.Len(t, op.SelectionSet.Selections, 1)
	field, ok := op.SelectionSet.Selections[0].(*ast.Field)
	require.True(t, ok)
	return field, fragments
}

func planQuery(t *testing.T, query string, opts ...PlanOption) *Plan {
	t.Helper()
	plan, err := planQueryErr(t, query, opts...)
	require.NoError(t, err)
	return plan
}

func planQueryErr(t *testing.T, query string, opts ...PlanOption) (*Plan, error) {
	t.Helper()
	field, fragments := parseRootField(t, query)
	opts = append([]PlanOption{WithFragments(fragments)}, opts...)
	return PlanRootField(fixture.Schema(t), field, opts...)
}

func renderCondition(t *testing.T, cond sqlir.Condition) (string, []any) {
	t.Helper()
	query, args, err := sqlir.Render(cond)
	require.NoError(t, err)
	return query, args
}

func tableOf(t *testing.T, name string) (*introspection.Schema, introspection.TableID) {
	t.Helper()
	schema := fixture.Schema(t)
	return schema, fixture.Table(t, schema, name)
}
