//go:build integration
// +build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_UniqueWithRelations(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	code, resp := postGraphQL(t, app.Handler(), `{
		user(lookup: {id: 1}) {
			id name status tags metadata
			profile { bio }
			posts(orderBy: [{title: DESC}]) { edges { node { title score } } }
		}
	}`, nil, nil)
	require.Equal(t, http.StatusOK, code)

	user := field[*userNode](t, resp, "user")
	require.NotNil(t, user)
	assert.Equal(t, "1", user.ID)
	assert.Equal(t, "ann", user.Name)
	require.NotNil(t, user.Status)
	assert.Equal(t, "ACTIVE", *user.Status)
	assert.Equal(t, []string{"a", "b"}, user.Tags)
	assert.Equal(t, map[string]any{"tier": float64(1)}, user.Metadata)
	require.NotNil(t, user.Profile)
	assert.Equal(t, "hello", user.Profile.Bio)
	require.NotNil(t, user.Posts)
	assert.Equal(t, []string{"second", "first"}, user.Posts.titles())
}

func TestQuery_UniqueLookupMisses(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	_, resp := postGraphQL(t, app.Handler(), `{ user(lookup: {email: "nobody@example.com"}) { id } }`, nil, nil)
	assert.Nil(t, field[*userNode](t, resp, "user"))

	_, resp = postGraphQL(t, app.Handler(), `{ user(lookup: {id: 3}) { name profile { bio } } }`, nil, nil)
	user := field[*userNode](t, resp, "user")
	require.NotNil(t, user)
	assert.Equal(t, "cy", user.Name)
	assert.Nil(t, user.Profile)
}

func TestQuery_PaginationWithCursors(t *testing.T) {
	app := startApp(t, newShop(t), nil)
	const query = `query($after: String) {
		users(first: 2, after: $after) {
			edges { node { name } cursor }
			pageInfo { hasNextPage hasPreviousPage endCursor }
		}
	}`

	_, resp := postGraphQL(t, app.Handler(), query, nil, nil)
	page := field[userConnection](t, resp, "users")
	assert.Equal(t, []string{"ann", "bob"}, page.names())
	assert.True(t, page.PageInfo.HasNextPage)
	require.NotEmpty(t, page.PageInfo.EndCursor)
	assert.Equal(t, page.Edges[1].Cursor, page.PageInfo.EndCursor)

	_, resp = postGraphQL(t, app.Handler(), query, map[string]any{"after": page.PageInfo.EndCursor}, nil)
	page = field[userConnection](t, resp, "users")
	assert.Equal(t, []string{"cy"}, page.names())
	assert.False(t, page.PageInfo.HasNextPage)
}

func TestQuery_LastPageReversesOrder(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	_, resp := postGraphQL(t, app.Handler(), `{
		users(last: 2) { edges { node { name } } pageInfo { hasNextPage hasPreviousPage } }
	}`, nil, nil)
	page := field[userConnection](t, resp, "users")
	assert.Equal(t, []string{"bob", "cy"}, page.names())
	assert.True(t, page.PageInfo.HasPreviousPage)
	assert.False(t, page.PageInfo.HasNextPage)
}

func TestQuery_Filters(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{"equality", `{name: {eq: "bob"}}`, []string{"bob"}},
		{"null equality", `{email: {eq: null}}`, []string{"cy"}},
		{"in list", `{name: {in: ["ann", "cy"]}}`, []string{"ann", "cy"}},
		{"empty in", `{name: {in: []}}`, []string{}},
		{"empty nin", `{name: {nin: []}}`, []string{"ann", "bob", "cy"}},
		{"like", `{email: {like: "%@example.com"}}`, []string{"ann", "bob"}},
		{"enum", `{status: {eq: IN_REVIEW}}`, []string{"bob"}},
		{"array contains", `{tags: {contains: ["b"]}}`, []string{"ann"}},
		{"not", `{name: {not: {eq: "ann"}}}`, []string{"bob", "cy"}},
		{"any", `{ANY: [{name: {eq: "ann"}}, {email: {eq: null}}]}`, []string{"ann", "cy"}},
		{"to-many relation", `{posts: {contains: {title: {eq: "third"}}}}`, []string{"bob"}},
		{"missing to-one relation", `{profile: null}`, []string{"bob", "cy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := postGraphQL(t, app.Handler(),
				`{ users(filter: `+tt.filter+`) { edges { node { name } } } }`, nil, nil)
			assert.Equal(t, tt.want, field[userConnection](t, resp, "users").names())
		})
	}
}

func TestQuery_BatchedLookupKeepsKeyOrder(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	_, resp := postGraphQL(t, app.Handler(), `{ userLookup(lookup: {id: [3, 99, 1, 3]}) { name } }`, nil, nil)
	users := field[[]*userNode](t, resp, "userLookup")
	require.Len(t, users, 4)
	assert.Equal(t, "cy", users[0].Name)
	assert.Nil(t, users[1])
	assert.Equal(t, "ann", users[2].Name)
	assert.Equal(t, "cy", users[3].Name)

	_, resp = postGraphQL(t, app.Handler(), `{ userLookup(lookup: {id: []}) { name } }`, nil, nil)
	assert.Empty(t, field[[]*userNode](t, resp, "userLookup"))
}

func TestQuery_FieldErrorsDoNotFailRequest(t *testing.T) {
	app := startApp(t, newShop(t), nil)

	code, resp := postGraphQL(t, app.Handler(), `{
		ok: user(lookup: {id: 2}) { name }
		bad: user(lookup: {id: "x"}) { name }
		kind: __typename
	}`, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, []any{"bad"}, resp.Errors[0].Path)
	assert.JSONEq(t, `{"name":"bob"}`, string(resp.Data["ok"]))
	assert.JSONEq(t, `null`, string(resp.Data["bad"]))
	assert.JSONEq(t, `"Query"`, string(resp.Data["kind"]))
}
