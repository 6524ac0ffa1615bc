package serverapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"postgres-graphql/internal/dbexec"
	"postgres-graphql/internal/testutil/fixture"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Path       []any          `json:"path"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newTestHandler(t *testing.T) (*GraphQLHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := NewGraphQLHandler(StaticSchema(fixture.Schema(t)), dbexec.NewPoolExecutor(db), nil, CompilerOptions{
		DefaultPageSize: 25,
		MaxPageSize:     100,
	})
	return h, mock
}

func postQuery(t *testing.T, h http.Handler, path, query string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func jsonRow(body string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"result"}).AddRow([]byte(body))
}

func TestGraphQLHandler_UniqueLookup(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`"public"\."users"`).
		WithArgs(int64(1)).
		WillReturnRows(jsonRow(`{"id":"1","name":"ann"}`))

	rec := postQuery(t, h, graphqlPath, `{ user(lookup: {id: 1}) { id name } }`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeResponse(t, rec)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"id": "1", "name": "ann"}, resp.Data["user"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphQLHandler_NoRowIsNull(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`"public"\."users"`).WillReturnRows(sqlmock.NewRows([]string{"result"}))

	rec := postQuery(t, h, graphqlPath, `{ user(lookup: {id: 2}) { id } }`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"user":null}}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphQLHandler_RootTypenameKeepsOrder(t *testing.T) {
	h, mock := newTestHandler(t)

	rec := postQuery(t, h, graphqlPath, `{ b: __typename a: __typename }`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"data":{"b":"Query","a":"Query"}}`, strings.TrimSpace(rec.Body.String()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphQLHandler_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		key   string
		code  string
	}{
		{"introspection", `{ __schema { types { name } } }`, "__schema", codeUnsupported},
		{"mutation field on query", `{ userCreate(input: {name: "a"}) { rowCount } }`, "userCreate", codeOperationMixup},
		{"query field on mutation", `mutation { users { edges { node { id } } } }`, "users", codeOperationMixup},
		{"unknown field", `{ nope }`, "nope", "SCHEMA_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mock := newTestHandler(t)

			rec := postQuery(t, h, graphqlPath, tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeResponse(t, rec)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, tt.code, resp.Errors[0].Extensions["code"])
			assert.Equal(t, []any{tt.key}, resp.Errors[0].Path)
			assert.Contains(t, resp.Data, tt.key)
			assert.Nil(t, resp.Data[tt.key])
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGraphQLHandler_RequestErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	t.Run("parse error", func(t *testing.T) {
		rec := postQuery(t, h, graphqlPath, `{ user(`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, codeBadRequest, resp.Errors[0].Extensions["code"])
		assert.Nil(t, resp.Data)
	})

	t.Run("subscription", func(t *testing.T) {
		rec := postQuery(t, h, graphqlPath, `subscription { users { edges { node { id } } } }`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeResponse(t, rec)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, codeUnsupported, resp.Errors[0].Extensions["code"])
	})

	t.Run("mutation over GET", func(t *testing.T) {
		q := url.Values{"query": {`mutation { postCreate { rowCount } }`}}
		req := httptest.NewRequest(http.MethodGet, graphqlPath+"?"+q.Encode(), nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
	})

	t.Run("unsupported method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, graphqlPath, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
	})
}

func TestGraphQLHandler_MutationsShareTransaction(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "public"\."posts"`).WillReturnRows(jsonRow(`{"rowCount":1}`))
	mock.ExpectQuery(`DELETE FROM "public"\."users"`).WithArgs("a").WillReturnRows(jsonRow(`{"rowCount":2}`))
	mock.ExpectCommit()

	rec := postQuery(t, h, graphqlPath, `mutation {
		created: postCreate { rowCount }
		removed: userDeleteMany(filter: {name: {eq: "a"}}) { rowCount }
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"rowCount": float64(1)}, resp.Data["created"])
	assert.Equal(t, map[string]any{"rowCount": float64(2)}, resp.Data["removed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphQLHandler_FailedMutationRollsBackOthers(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "public"\."posts"`).WillReturnRows(jsonRow(`{"rowCount":1}`))
	mock.ExpectQuery(`DELETE FROM "public"\."users"`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	rec := postQuery(t, h, graphqlPath, `mutation {
		created: postCreate { rowCount }
		removed: userDeleteMany(filter: {name: {eq: "a"}}) { rowCount }
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Data["created"])
	assert.Nil(t, resp.Data["removed"])

	codes := map[string]any{}
	for _, e := range resp.Errors {
		require.Len(t, e.Path, 1)
		codes[e.Path[0].(string)] = e.Extensions["code"]
	}
	assert.Equal(t, map[string]any{
		"created": codeRolledBack,
		"removed": dbexec.CodeExecutionFailed,
	}, codes)
	assert.NotContains(t, rec.Body.String(), "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGraphQLHandler_SingleMutationSkipsTransaction(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`INSERT INTO "public"\."posts"`).WillReturnRows(jsonRow(`{"rowCount":1}`))

	rec := postQuery(t, h, graphqlPath, `mutation { postCreate { rowCount } }`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"postCreate":{"rowCount":1}}}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompileHandler(t *testing.T) {
	h, mock := newTestHandler(t)
	compile := h.CompileHandler()

	rec := postQuery(t, compile, compilePath, `{ __typename user(lookup: {id: 1}) { id } nope }`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Statements []struct {
			Field string `json:"field"`
			Kind  string `json:"kind"`
			SQL   string `json:"sql"`
			Args  []any  `json:"args"`
			Cost  *struct {
				Depth int `json:"depth"`
			} `json:"cost"`
			Value any `json:"value"`
		} `json:"statements"`
		Errors []graphQLError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Statements, 2)
	assert.Equal(t, "__typename", resp.Statements[0].Field)
	assert.Equal(t, "Query", resp.Statements[0].Value)
	assert.Empty(t, resp.Statements[0].SQL)

	stmt := resp.Statements[1]
	assert.Equal(t, "user", stmt.Field)
	assert.NotEmpty(t, stmt.Kind)
	assert.Contains(t, stmt.SQL, `"public"."users"`)
	assert.Equal(t, []any{float64(1)}, stmt.Args)
	require.NotNil(t, stmt.Cost)

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, []any{"nope"}, resp.Errors[0].Path)

	req := httptest.NewRequest(http.MethodGet, compilePath, nil)
	rec = httptest.NewRecorder()
	compile.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}
