package gqlrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// Envelope is the transport-independent GraphQL payload of an HTTP request.
type Envelope struct {
	Query         string
	OperationName string
	// Variables is the raw variables object; nil or JSON null means none.
	Variables json.RawMessage
}

// ReadEnvelope extracts the GraphQL payload from r. GET requests carry it in
// the URL; POST bodies are either a JSON object or, for application/graphql,
// the bare document. The body is restored so later handlers can read it.
// Other methods yield an empty envelope.
func ReadEnvelope(r *http.Request) (Envelope, error) {
	switch r.Method {
	case http.MethodGet:
		return envelopeFromURL(r.URL.Query()), nil
	case http.MethodPost:
		body, err := rewindBody(r)
		if err != nil {
			return Envelope{}, err
		}
		if graphQLMediaType(r.Header.Get("Content-Type")) {
			return Envelope{Query: string(body)}, nil
		}
		return envelopeFromJSON(body)
	}
	return Envelope{}, nil
}

func envelopeFromURL(params url.Values) Envelope {
	env := Envelope{
		Query:         params.Get("query"),
		OperationName: params.Get("operationName"),
	}
	if raw := bytes.TrimSpace([]byte(params.Get("variables"))); len(raw) > 0 {
		env.Variables = raw
	}
	return env
}

func envelopeFromJSON(body []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, nil
	}
	var payload struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return env, err
	}
	env.Query = payload.Query
	env.OperationName = payload.OperationName
	env.Variables = payload.Variables
	return env, nil
}

func rewindBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func graphQLMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/graphql"
}

type analysisKey struct{}

// WithAnalysis returns a copy of ctx carrying analysis.
func WithAnalysis(ctx context.Context, analysis *Analysis) context.Context {
	return context.WithValue(ctx, analysisKey{}, analysis)
}

// AnalysisFromContext returns the analysis stored by WithAnalysis, or nil.
func AnalysisFromContext(ctx context.Context) *Analysis {
	analysis, _ := ctx.Value(analysisKey{}).(*Analysis)
	return analysis
}
