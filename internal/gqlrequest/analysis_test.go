package gqlrequest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name          string
		env           Envelope
		wantErr       string
		wantType      string
		wantName      string
		wantShape     Shape
		wantRootType  string
		wantVariables map[string]any
	}{
		{
			name:         "anonymous query",
			env:          Envelope{Query: `{ user(lookup: {id: 1}) { id name } }`},
			wantType:     "query",
			wantShape:    Shape{Fields: 3, Depth: 2},
			wantRootType: "Query",
		},
		{
			name: "named operation with variables",
			env: Envelope{
				Query:         `query GetUser($id: BigInt!, $withEmail: Boolean) { user(lookup: {id: $id}) { id email } }`,
				OperationName: "GetUser",
				Variables:     json.RawMessage(`{"id": 9007199254740993, "withEmail": true}`),
			},
			wantType:      "query",
			wantName:      "GetUser",
			wantShape:     Shape{Fields: 3, Depth: 2, Variables: 2},
			wantRootType:  "Query",
			wantVariables: map[string]any{"id": json.Number("9007199254740993"), "withEmail": true},
		},
		{
			name: "mutation",
			env: Envelope{
				Query: `mutation { userCreate(input: {name: "ann"}) { rowCount returning { id } } }`,
			},
			wantType:     "mutation",
			wantShape:    Shape{Fields: 4, Depth: 3},
			wantRootType: "Mutation",
		},
		{
			name: "picks the named operation",
			env: Envelope{
				Query:         `query A { users { edges { cursor } } } mutation B { userDelete(lookup: {id: 1}) { rowCount } }`,
				OperationName: "B",
			},
			wantType:     "mutation",
			wantName:     "B",
			wantShape:    Shape{Fields: 2, Depth: 2},
			wantRootType: "Mutation",
		},
		{
			name:          "null variables",
			env:           Envelope{Query: `{ users { edges { cursor } } }`, Variables: json.RawMessage(`null`)},
			wantType:      "query",
			wantShape:     Shape{Fields: 3, Depth: 3},
			wantRootType:  "Query",
			wantVariables: map[string]any{},
		},
		{name: "empty query", env: Envelope{Query: "  "}, wantErr: "request does not include a query"},
		{name: "variables not an object", env: Envelope{Query: `{ users { edges { cursor } } }`, Variables: json.RawMessage(`[1]`)}, wantErr: "invalid variables"},
		{name: "syntax error", env: Envelope{Query: `{ users {`}, wantErr: "Syntax Error"},
		{name: "unknown operation", env: Envelope{Query: `query A { users { edges { cursor } } }`, OperationName: "B"}, wantErr: `unknown operation named "B"`},
		{name: "ambiguous operation", env: Envelope{Query: `query A { users { edges { cursor } } } query B { posts { edges { cursor } } }`}, wantErr: "operationName is required"},
		{name: "fragments only", env: Envelope{Query: `fragment F on User { id }`}, wantErr: "does not include an operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(tt.env)
			if tt.wantErr != "" {
				require.Error(t, a.Err())
				assert.Contains(t, a.Err().Error(), tt.wantErr)
				assert.Nil(t, a.Operation)
				return
			}
			require.NoError(t, a.Err())
			assert.Equal(t, tt.wantType, a.OperationType)
			assert.Equal(t, tt.wantName, a.OperationName)
			assert.Equal(t, tt.wantShape, a.Shape)
			assert.Equal(t, tt.wantRootType, a.RootTypeName())
			assert.Len(t, a.Fingerprint, 32)
			if tt.wantVariables != nil {
				assert.Equal(t, tt.wantVariables, a.Variables)
			}
		})
	}
}

func TestAnalyze_FragmentCycleIsCountedOnce(t *testing.T) {
	a := Analyze(Envelope{Query: `
		fragment A on User { id ...B }
		fragment B on User { name ...A }
		{ user(lookup: {id: 1}) { ...A } }
	`})
	require.NoError(t, a.Err())
	assert.Equal(t, Shape{Fields: 3, Depth: 2}, a.Shape)
	assert.Len(t, a.Fragments, 2)
}

func TestAnalyze_RepeatedSpreadsCountEachUse(t *testing.T) {
	a := Analyze(Envelope{Query: `
		fragment Name on User { name }
		{ a: user(lookup: {id: 1}) { ...Name } b: user(lookup: {id: 2}) { ...Name } }
	`})
	require.NoError(t, a.Err())
	assert.Equal(t, Shape{Fields: 4, Depth: 2}, a.Shape)
}

func TestFingerprint(t *testing.T) {
	fp := func(env Envelope) string {
		t.Helper()
		a := Analyze(env)
		require.NoError(t, a.Err())
		return a.Fingerprint
	}

	base := fp(Envelope{Query: `query Users { users { edges { node { id name } } } }`})

	t.Run("ignores formatting and comments", func(t *testing.T) {
		assert.Equal(t, base, fp(Envelope{Query: "# list\nquery Users {\n  users { edges { node { id name } } }\n}"}))
	})
	t.Run("ignores unselected operations", func(t *testing.T) {
		assert.Equal(t, base, fp(Envelope{
			Query:         `query Users { users { edges { node { id name } } } } query Other { posts { edges { cursor } } }`,
			OperationName: "Users",
		}))
	})
	t.Run("ignores fragment declaration order", func(t *testing.T) {
		a := fp(Envelope{Query: `fragment A on User { id } fragment B on User { name } { users { edges { node { ...A ...B } } } }`})
		b := fp(Envelope{Query: `fragment B on User { name } fragment A on User { id } { users { edges { node { ...A ...B } } } }`})
		assert.Equal(t, a, b)
	})
	t.Run("depends on fragment bodies", func(t *testing.T) {
		a := fp(Envelope{Query: `fragment A on User { id } { users { edges { node { ...A } } } }`})
		b := fp(Envelope{Query: `fragment A on User { name } { users { edges { node { ...A } } } }`})
		assert.NotEqual(t, a, b)
	})
	t.Run("depends on the operation name", func(t *testing.T) {
		assert.NotEqual(t, base, fp(Envelope{Query: `query Others { users { edges { node { id name } } } }`}))
	})
}
