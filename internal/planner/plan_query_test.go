package planner

import (
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgres-graphql/internal/introspection"
)

func TestPlanRootField_Unique(t *testing.T) {
	plan := planQuery(t, `{ user(lookup: {id: 1}) { id name } }`)

	assert.Equal(t, StatementUnique, plan.Root.Kind)
	assert.Equal(t, introspection.RootSingle, plan.Field)
	assert.Equal(t, "user", plan.ResponseKey)
	assert.Equal(t,
		`SELECT row_to_json("outer") AS "json" FROM (`+
			`SELECT CAST("users_0"."id" AS "text") AS "id", "users_0"."name" AS "name" FROM (`+
			`SELECT "users_0"."id", "users_0"."name" FROM "public"."users" AS "users_0" WHERE "users_0"."id" = $1 LIMIT 1`+
			`) AS "users_0") AS "outer"`,
		plan.Root.SQL)
	assert.Equal(t, []any{int64(1)}, plan.Root.Args)
	require.NotNil(t, plan.Shape.Object)
	assert.True(t, plan.Shape.Object.Empty())
}

func TestPlanRootField_UniqueCompositeKeyOmission(t *testing.T) {
	plan := planQuery(t, `{ user(lookup: {nameEmail: {name: "ann"}}) { id } }`)

	assert.Contains(t, plan.Root.SQL, `WHERE ("users_0"."name" = $1 AND "users_0"."email" IS NULL) LIMIT 1`)
	assert.Equal(t, []any{"ann"}, plan.Root.Args)
}

func TestPlanRootField_Collection(t *testing.T) {
	plan := planQuery(t, `{
		users(first: 2, orderBy: [{name: DESC}]) {
			edges { node { name } cursor }
			pageInfo { hasNextPage }
		}
	}`)

	assert.Equal(t, StatementCollection, plan.Root.Kind)
	assert.Equal(t,
		`SELECT json_build_object('edges', coalesce(jsonb_agg(jsonb_build_object('node', "outer"."json", 'cursor', jsonb_build_array("outer"."users_name", "outer"."users_id")) `+
			`ORDER BY "outer"."users_name" DESC NULLS FIRST, "outer"."users_id" ASC NULLS FIRST), CAST('[]' AS "jsonb")), `+
			`'pageInfo', json_build_object('hasNextPage', (count(*) > 2), 'hasPreviousPage', FALSE)) AS "json" FROM (`+
			`SELECT jsonb_build_object('name', "users_0"."name") AS "json", "users_0"."name" AS "users_name", "users_0"."id" AS "users_id" FROM (`+
			`SELECT "users_0"."name", "users_0"."id" FROM "public"."users" AS "users_0" `+
			`ORDER BY "users_0"."name" DESC NULLS FIRST, "users_0"."id" ASC NULLS FIRST LIMIT 3`+
			`) AS "users_0") AS "outer"`,
		plan.Root.SQL)
	assert.Equal(t, []any{}, plan.Root.Args)

	shape := plan.Shape.Connection
	require.NotNil(t, shape)
	assert.Equal(t, "User", shape.TypeName)
	assert.Equal(t, "name_id", shape.OrderByKey)
	assert.Equal(t, []string{"DESC", "ASC"}, shape.Directions)
	assert.Equal(t, uint64(2), shape.Limit)
	assert.False(t, shape.Backward)
	assert.Equal(t, []ConnectionField{{Key: "edges", Name: "edges"}, {Key: "pageInfo", Name: "pageInfo"}}, shape.Selection.Fields)
	assert.Equal(t, []ConnectionField{{Key: "node", Name: "node"}, {Key: "cursor", Name: "cursor"}}, shape.Selection.Edge)
	assert.Equal(t, []ConnectionField{{Key: "hasNextPage", Name: "hasNextPage"}}, shape.Selection.PageInfo)
}

func TestPlanRootField_CollectionBackwardFlipsInnerOrder(t *testing.T) {
	plan := planQuery(t, `{ users(last: 5) { edges { node { id } } } }`)

	assert.Contains(t, plan.Root.SQL, `ORDER BY "users_0"."id" DESC NULLS FIRST LIMIT 6`)
	assert.Contains(t, plan.Root.SQL, `ORDER BY "outer"."users_id" ASC NULLS FIRST)`)
	assert.Contains(t, plan.Root.SQL, `'hasNextPage', FALSE, 'hasPreviousPage', (count(*) > 5)`)
	assert.True(t, plan.Shape.Connection.Backward)
}

func TestPlanRootField_CollectionFilterVariables(t *testing.T) {
	plan := planQuery(t, `query($email: String) {
		users(filter: {email: {eq: $email}}) { edges { node { id } } }
	}`, WithVariables(map[string]any{"email": nil}))

	assert.Contains(t, plan.Root.SQL, `FROM "public"."users" AS "users_0" WHERE "users_0"."email" IS NULL ORDER BY`)
	assert.Contains(t, plan.Root.SQL, `LIMIT 26`)
}

func TestPlanRootField_NestedRelations(t *testing.T) {
	plan := planQuery(t, `{
		user(lookup: {id: 1}) {
			name
			profile { bio }
			posts(first: 1) { edges { node { title } } }
		}
	}`)

	sql := plan.Root.SQL
	assert.Contains(t, sql, `SELECT "users_0"."name", "users_0"."id" FROM "public"."users" AS "users_0" WHERE "users_0"."id" = $1 LIMIT 1`)
	assert.Contains(t, sql, `"profiles_1"."json" AS "profile", "posts_2"."json" AS "posts"`)
	assert.Contains(t, sql,
		`LEFT JOIN LATERAL (SELECT row_to_json("outer") AS "json" FROM (SELECT "profiles_1"."bio" AS "bio" FROM (`+
			`SELECT "profiles_1"."bio", "profiles_1"."user_id" FROM "public"."profiles" AS "profiles_1" `+
			`WHERE "profiles_1"."user_id" = "users_0"."id" LIMIT 1) AS "profiles_1") AS "outer") AS "profiles_1" ON TRUE`)
	assert.Contains(t, sql, `FROM "public"."posts" AS "posts_2" WHERE "posts_2"."author_id" = "users_0"."id" ORDER BY "posts_2"."id" ASC NULLS FIRST LIMIT 2`)
	assert.Equal(t, []any{int64(1)}, plan.Root.Args)

	fields := plan.Shape.Object.Fields
	require.Contains(t, fields, "posts")
	require.NotNil(t, fields["posts"].Connection)
	assert.Equal(t, "Post", fields["posts"].Connection.TypeName)
	assert.NotContains(t, fields, "profile")
}

func TestPlanRootField_Lookup(t *testing.T) {
	plan := planQuery(t, `{ userLookup(lookup: {id: [3, 1]}) { id } }`)

	assert.Equal(t, StatementLookup, plan.Root.Kind)
	assert.Equal(t,
		`SELECT coalesce(jsonb_agg("outer"."json" ORDER BY "outer"."__idx" ASC), CAST('[]' AS "jsonb")) AS "json" FROM (`+
			`SELECT CASE WHEN "users_0"."__found" IS NULL THEN CAST('null' AS "jsonb") ELSE jsonb_build_object('id', CAST("users_0"."id" AS "text")) END AS "json", `+
			`"lookup_keys"."__idx" AS "__idx" `+
			`FROM unnest(ARRAY[CAST($1 AS "int8"), CAST($2 AS "int8")]) WITH ORDINALITY AS "lookup_keys"("id", "__idx") `+
			`LEFT JOIN LATERAL (SELECT TRUE AS "__found", "users_0"."id" FROM "public"."users" AS "users_0" `+
			`WHERE "users_0"."id" IS NOT DISTINCT FROM "lookup_keys"."id" LIMIT 1) AS "users_0" ON TRUE`+
			`) AS "outer"`,
		plan.Root.SQL)
	assert.Equal(t, []any{int64(3), int64(1)}, plan.Root.Args)
	assert.NotNil(t, plan.Shape.List)
}

func TestPlanRootField_LookupCompositeKey(t *testing.T) {
	plan := planQuery(t, `{ userLookup(lookup: {nameEmail: [{name: "a"}, {name: "b", email: "x"}]}) { id } }`)

	assert.Contains(t, plan.Root.SQL,
		`unnest(ARRAY[CAST($1 AS "text"), CAST($2 AS "text")], ARRAY[CAST(NULL AS "text"), CAST($3 AS "text")]) `+
			`WITH ORDINALITY AS "lookup_keys"("name", "email", "__idx")`)
	assert.Contains(t, plan.Root.SQL, `WHERE ("users_0"."name" IS NOT DISTINCT FROM "lookup_keys"."name" AND "users_0"."email" IS NOT DISTINCT FROM "lookup_keys"."email")`)
	assert.Equal(t, []any{"a", "b", "x"}, plan.Root.Args)
}

func TestPlanRootField_LookupEmpty(t *testing.T) {
	plan := planQuery(t, `{ userLookup(lookup: {id: []}) { id } }`)

	assert.Equal(t, `SELECT CAST('[]' AS "jsonb") AS "json"`, plan.Root.SQL)
	assert.Equal(t, []any{}, plan.Root.Args)
}

func TestPlanRootField_Fragments(t *testing.T) {
	plan := planQuery(t, `
		query {
			user(lookup: {id: 1}) {
				...UserID
				name @skip(if: true)
				... on User { email }
				... on Post { title }
				label: __typename
			}
		}
		fragment UserID on User { id }
	`)

	assert.Contains(t, plan.Root.SQL, `SELECT CAST("users_0"."id" AS "text") AS "id", "users_0"."email" AS "email", 'User' AS "label" FROM`)
	assert.NotContains(t, plan.Root.SQL, `"name"`)
	assert.NotContains(t, plan.Root.SQL, `"title"`)
}

func TestPlanRootField_IncludeVariable(t *testing.T) {
	query := `query($withName: Boolean!) { user(lookup: {id: 1}) { id name @include(if: $withName) } }`

	plan := planQuery(t, query, WithVariables(map[string]any{"withName": false}))
	assert.NotContains(t, plan.Root.SQL, `"name"`)

	plan = planQuery(t, query, WithVariables(map[string]any{"withName": true}))
	assert.Contains(t, plan.Root.SQL, `"users_0"."name" AS "name"`)
}

func TestPlanRootField_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		target any
	}{
		{"unknown root field", `{ widgets { id } }`, &SchemaError{}},
		{"unknown column", `{ user(lookup: {id: 1}) { nickname } }`, &SchemaError{}},
		{"missing lookup", `{ user { id } }`, &ArgumentError{}},
		{"first and last", `{ users(first: 1, last: 1) { edges { node { id } } } }`, &ArgumentError{}},
		{"unknown connection field", `{ users { nodes { id } } }`, &SchemaError{}},
		{"unknown edge field", `{ users { edges { item { id } } } }`, &SchemaError{}},
		{"column with selection", `{ user(lookup: {id: 1}) { name { id } } }`, &SchemaError{}},
		{"undefined fragment", `{ user(lookup: {id: 1}) { ...Missing } }`, &SchemaError{}},
		{"bad key value", `{ user(lookup: {id: "x"}) { id } }`, &ConversionError{}},
		{"empty selection", `{ user(lookup: {id: 1}) { ... on Post { title } } }`, &ArgumentError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planQueryErr(t, tt.query)
			require.Error(t, err)
			assert.IsType(t, tt.target, err)
		})
	}
}

func TestPlanRootField_PathInErrors(t *testing.T) {
	_, err := planQueryErr(t, `{ u: users(filter: {nope: {eq: 1}}) { edges { node { id } } } }`)
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"u", "filter", "nope"}, schemaErr.Path)
}

func TestRootFields(t *testing.T) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(`query($skipPosts: Boolean!) {
			...Both
			posts @skip(if: $skipPosts) { edges { cursor } }
			user(lookup: {id: 1}) { name }
		}
		fragment Both on Query { user(lookup: {id: 1}) { id } me: users { pageInfo { hasNextPage } } }`), Name: "test"}),
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

	fields, err := RootFields(op.SelectionSet, "Query",
		WithFragments(fragments),
		WithVariables(map[string]any{"skipPosts": true}))
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "user", responseKey(fields[0]))
	assert.Len(t, fields[0].SelectionSet.Selections, 2)
	assert.Equal(t, "me", responseKey(fields[1]))

	_, err = RootFields(op.SelectionSet, "Query", WithVariables(map[string]any{"skipPosts": false}))
	require.Error(t, err)
	assert.IsType(t, &SchemaError{}, err)
}
