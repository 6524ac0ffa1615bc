//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/naming"
	"postgres-graphql/internal/serverapp"
	"postgres-graphql/internal/testutil/pgtest"

	"github.com/stretchr/testify/require"
)

const shopSchema = `
CREATE TYPE user_status AS ENUM ('active', 'in review');

CREATE TABLE users (
	id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name text NOT NULL,
	email text UNIQUE,
	status user_status,
	tags text[],
	metadata jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE posts (
	id integer GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	title text NOT NULL,
	score double precision,
	author_id bigint NOT NULL REFERENCES users (id)
);

CREATE TABLE profiles (
	user_id bigint PRIMARY KEY REFERENCES users (id),
	bio text
);
`

const shopData = `
INSERT INTO users (name, email, status, tags, metadata) VALUES
	('ann', 'ann@example.com', 'active', '{a,b}', '{"tier": 1}'),
	('bob', 'bob@example.com', 'in review', NULL, NULL),
	('cy', NULL, NULL, NULL, NULL);

INSERT INTO posts (title, score, author_id) VALUES
	('first', 1.5, 1),
	('second', 2.5, 1),
	('third', NULL, 2);

INSERT INTO profiles (user_id, bio) VALUES (1, 'hello');
`

// newShop creates a database with the users/posts/profiles schema and seed
// rows.
func newShop(t *testing.T) *pgtest.TestDB {
	t.Helper()
	db := pgtest.New(t)
	db.Exec(t, shopSchema, shopData)
	return db
}

func testLogger() *logging.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

func baseConfig(db *pgtest.TestDB) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			ConnectionString:        db.DSN,
			Schemas:                 []string{"public"},
			Pool:                    config.PoolConfig{MaxOpen: 5, MaxIdle: 2},
			ConnectionTimeout:       10 * time.Second,
			ConnectionRetryInterval: 200 * time.Millisecond,
		},
		Schema: config.SchemaConfig{
			Source:        config.SchemaSourceCatalog,
			DefaultSchema: "public",
		},
		Compiler: config.CompilerConfig{DefaultPageSize: 25, MaxPageSize: 100},
		Server: config.ServerConfig{
			MaxRequestBytes:    1 << 20,
			RequestTimeout:     10 * time.Second,
			HealthCheckTimeout: time.Second,
		},
		Naming: naming.DefaultConfig(),
	}
}

// startApp initializes the full application against db. The HTTP server is
// never started; tests call App.Handler directly.
func startApp(t *testing.T, db *pgtest.TestDB, mutate func(*config.Config)) *serverapp.App {
	t.Helper()
	cfg := baseConfig(db)
	if mutate != nil {
		mutate(cfg)
	}

	app, err := serverapp.New(cfg, testLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Init(ctx))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	})
	return app
}

type gqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors"`
}

// postGraphQL sends a GraphQL request and decodes the response envelope.
func postGraphQL(t *testing.T, h http.Handler, query string, variables map[string]any, header http.Header) (int, gqlResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp gqlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

// field decodes one root field of a response without errors.
func field[T any](t *testing.T, resp gqlResponse, key string) T {
	t.Helper()
	require.Empty(t, resp.Errors)
	raw, ok := resp.Data[key]
	require.True(t, ok, "missing root field %s", key)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func errorCode(e gqlError) string {
	code, _ := e.Extensions["code"].(string)
	return code
}

type pageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	EndCursor       string `json:"endCursor"`
}

type postConnection struct {
	Edges []struct {
		Node struct {
			Title string   `json:"title"`
			Score *float64 `json:"score"`
		} `json:"node"`
	} `json:"edges"`
}

func (c postConnection) titles() []string {
	titles := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		titles[i] = e.Node.Title
	}
	return titles
}

type userNode struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Email    *string        `json:"email"`
	Status   *string        `json:"status"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
	Profile  *struct {
		Bio string `json:"bio"`
	} `json:"profile"`
	Posts *postConnection `json:"posts"`
}

type userConnection struct {
	Edges []struct {
		Node   userNode `json:"node"`
		Cursor string   `json:"cursor"`
	} `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

func (c userConnection) names() []string {
	names := make([]string, len(c.Edges))
	for i, e := range c.Edges {
		names[i] = e.Node.Name
	}
	return names
}
