// Package gqlrequest turns a GraphQL HTTP request into the pieces the
// compiler works from: the selected operation, its fragments and decoded
// variables, plus a fingerprint and shape summary for logs and traces.
package gqlrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// Analysis is a parsed GraphQL request. When Err is non-nil, fields past the
// failing step are zero.
type Analysis struct {
	Envelope Envelope

	Document  *ast.Document
	Operation *ast.OperationDefinition
	Fragments map[string]*ast.FragmentDefinition
	// Variables holds the decoded request variables. Numbers are json.Number.
	Variables map[string]any

	// OperationName is empty for anonymous operations.
	OperationName string
	OperationType string
	Fingerprint   string
	Shape         Shape

	// RootFields is the number of root fields left after @skip and @include
	// are applied. The analysis middleware fills it in.
	RootFields int

	err error
}

// Shape summarizes the size of the selected operation.
type Shape struct {
	Fields    int
	Depth     int
	Variables int
}

// Err reports why the request cannot be compiled, if it cannot.
func (a *Analysis) Err() error { return a.err }

// RootTypeName returns the GraphQL root type of the selected operation.
func (a *Analysis) RootTypeName() string {
	switch a.OperationType {
	case ast.OperationTypeMutation:
		return "Mutation"
	case ast.OperationTypeSubscription:
		return "Subscription"
	}
	return "Query"
}

// AnalyzeRequest reads and analyzes the GraphQL payload of r.
func AnalyzeRequest(r *http.Request) *Analysis {
	env, err := ReadEnvelope(r)
	if err != nil {
		return &Analysis{Envelope: env, err: fmt.Errorf("invalid request body: %w", err)}
	}
	return Analyze(env)
}

// Analyze parses env and selects the operation to run.
func Analyze(env Envelope) *Analysis {
	a := &Analysis{Envelope: env}

	vars, err := decodeVariables(env.Variables)
	if err != nil {
		a.err = fmt.Errorf("invalid variables: %w", err)
		return a
	}
	a.Variables = vars

	if strings.TrimSpace(env.Query) == "" {
		a.err = errors.New("request does not include a query")
		return a
	}
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(env.Query), Name: "graphql"}),
	})
	if err != nil {
		a.err = err
		return a
	}
	a.Document = doc

	a.Fragments = map[string]*ast.FragmentDefinition{}
	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch def := def.(type) {
		case *ast.FragmentDefinition:
			if def.Name != nil {
				a.Fragments[def.Name.Value] = def
			}
		case *ast.OperationDefinition:
			operations = append(operations, def)
		}
	}

	op, err := pickOperation(operations, env.OperationName)
	if err != nil {
		a.err = err
		return a
	}
	a.Operation = op
	a.OperationType = op.Operation
	if op.Name != nil {
		a.OperationName = op.Name.Value
	}

	meter := shapeMeter{fragments: a.Fragments, done: map[string]measured{}, active: map[string]bool{}}
	fields, depth := meter.measure(op.SelectionSet)
	a.Shape = Shape{Fields: fields, Depth: depth, Variables: len(op.VariableDefinitions)}
	a.Fingerprint = fingerprint(op, a.Fragments)
	return a
}

func pickOperation(operations []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == name {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", name)
	}
	switch len(operations) {
	case 0:
		return nil, errors.New("request does not include an operation")
	case 1:
		return operations[0], nil
	}
	return nil, errors.New("operationName is required when request has multiple operations")
}

// decodeVariables keeps numbers as json.Number so int8 and numeric values
// are not rounded through float64.
func decodeVariables(raw json.RawMessage) (map[string]any, error) {
	vars := map[string]any{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return vars, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&vars); err != nil {
		return nil, err
	}
	return vars, nil
}

type measured struct{ fields, depth int }

// shapeMeter counts fields and nesting depth, expanding each fragment once.
// A spread of a fragment that is still being expanded counts as empty.
type shapeMeter struct {
	fragments map[string]*ast.FragmentDefinition
	done      map[string]measured
	active    map[string]bool
}

func (m *shapeMeter) measure(set *ast.SelectionSet) (fields, depth int) {
	if set == nil {
		return 0, 0
	}
	for _, selection := range set.Selections {
		var f, d int
		switch sel := selection.(type) {
		case *ast.Field:
			f, d = m.measure(sel.SelectionSet)
			f, d = f+1, d+1
		case *ast.InlineFragment:
			f, d = m.measure(sel.SelectionSet)
		case *ast.FragmentSpread:
			f, d = m.fragment(spreadName(sel))
		}
		fields += f
		depth = max(depth, d)
	}
	return fields, depth
}

func (m *shapeMeter) fragment(name string) (fields, depth int) {
	if res, ok := m.done[name]; ok {
		return res.fields, res.depth
	}
	def, ok := m.fragments[name]
	if !ok || m.active[name] {
		return 0, 0
	}
	m.active[name] = true
	fields, depth = m.measure(def.SelectionSet)
	delete(m.active, name)
	m.done[name] = measured{fields, depth}
	return fields, depth
}
