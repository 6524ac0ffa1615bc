package gqlrequest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvelope(t *testing.T) {
	get := func(params url.Values) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/graphql?"+params.Encode(), nil)
	}
	post := func(contentType, body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		return req
	}

	tests := []struct {
		name    string
		req     *http.Request
		want    Envelope
		wantErr bool
	}{
		{
			name: "get",
			req: get(url.Values{
				"query":         {"query Users { users { edges { cursor } } }"},
				"operationName": {"Users"},
				"variables":     {` {"first": 2} `},
			}),
			want: Envelope{
				Query:         "query Users { users { edges { cursor } } }",
				OperationName: "Users",
				Variables:     json.RawMessage(`{"first": 2}`),
			},
		},
		{
			name: "get without variables",
			req:  get(url.Values{"query": {"{ users { edges { cursor } } }"}}),
			want: Envelope{Query: "{ users { edges { cursor } } }"},
		},
		{
			name: "post json",
			req:  post("application/json", `{"query":"query U { users { edges { cursor } } }","operationName":"U","variables":{"first":5}}`),
			want: Envelope{
				Query:         "query U { users { edges { cursor } } }",
				OperationName: "U",
				Variables:     json.RawMessage(`{"first":5}`),
			},
		},
		{
			name: "post json with charset",
			req:  post("application/json; charset=utf-8", `{"query":"{ users { edges { cursor } } }"}`),
			want: Envelope{Query: "{ users { edges { cursor } } }"},
		},
		{
			name: "post graphql document",
			req:  post("application/graphql", "{ users { edges { cursor } } }"),
			want: Envelope{Query: "{ users { edges { cursor } } }"},
		},
		{
			name: "post empty body",
			req:  post("application/json", "  "),
			want: Envelope{},
		},
		{
			name:    "post malformed json",
			req:     post("application/json", `{"query":`),
			wantErr: true,
		},
		{
			name: "other methods",
			req:  httptest.NewRequest(http.MethodPut, "/graphql", strings.NewReader(`{"query":"{ x }"}`)),
			want: Envelope{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ReadEnvelope(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Query, env.Query)
			assert.Equal(t, tt.want.OperationName, env.OperationName)
			if tt.want.Variables == nil {
				assert.Empty(t, env.Variables)
			} else {
				assert.JSONEq(t, string(tt.want.Variables), string(env.Variables))
			}
		})
	}
}

func TestReadEnvelope_RestoresBody(t *testing.T) {
	const body = `{"query":"{ users { edges { cursor } } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	_, err := ReadEnvelope(req)
	require.NoError(t, err)

	again, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(again))
}

func TestAnalyzeRequest_BodyErrorIsWrapped(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")

	a := AnalyzeRequest(req)
	require.Error(t, a.Err())
	assert.Contains(t, a.Err().Error(), "invalid request body")
}

func TestAnalysisContext(t *testing.T) {
	assert.Nil(t, AnalysisFromContext(context.Background()))

	a := Analyze(Envelope{Query: `{ users { edges { cursor } } }`})
	assert.Same(t, a, AnalysisFromContext(WithAnalysis(context.Background(), a)))
}
