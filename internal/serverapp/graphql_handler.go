package serverapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"postgres-graphql/internal/connection"
	"postgres-graphql/internal/dbexec"
	"postgres-graphql/internal/gqlrequest"
	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/middleware"
	"postgres-graphql/internal/observability"
	"postgres-graphql/internal/planner"

	"github.com/graphql-go/graphql/language/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error codes reported by the HTTP layer itself.
const (
	codeBadRequest       = "BAD_REQUEST"
	codeUnsupported      = "UNSUPPORTED_OPERATION"
	codeOperationMixup   = "OPERATION_TYPE_MISMATCH"
	codeRolledBack       = "TRANSACTION_ROLLED_BACK"
	codeInternal         = "INTERNAL_ERROR"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// CompilerOptions are the planner settings applied to every request.
type CompilerOptions struct {
	DefaultPageSize uint64
	MaxPageSize     uint64
	Limits          planner.PlanLimits
	// Timeout bounds statement execution of one request. Zero disables it.
	Timeout time.Duration
}

func (o CompilerOptions) planOptions(analysis *gqlrequest.Analysis) []planner.PlanOption {
	return []planner.PlanOption{
		planner.WithVariables(analysis.Variables),
		planner.WithFragments(analysis.Fragments),
		planner.WithPageSize(o.DefaultPageSize, o.MaxPageSize),
		planner.WithLimits(o.Limits),
	}
}

// SchemaSource supplies the schema model for a request. A refreshing source
// may return a different snapshot on each call.
type SchemaSource interface {
	Schema() *introspection.Schema
}

type staticSchema struct{ schema *introspection.Schema }

func (s staticSchema) Schema() *introspection.Schema { return s.schema }

// StaticSchema wraps a schema that never changes.
func StaticSchema(schema *introspection.Schema) SchemaSource {
	return staticSchema{schema: schema}
}

// GraphQLHandler compiles each root field of a request into one statement,
// runs it and returns the finalized JSON as the GraphQL response.
type GraphQLHandler struct {
	schemas  SchemaSource
	executor dbexec.QueryExecutor
	metrics  *observability.GraphQLMetrics
	options  CompilerOptions
	tracer   trace.Tracer
}

// NewGraphQLHandler creates the /graphql handler. metrics may be nil.
func NewGraphQLHandler(schemas SchemaSource, executor dbexec.QueryExecutor, metrics *observability.GraphQLMetrics, options CompilerOptions) *GraphQLHandler {
	return &GraphQLHandler{
		schemas:  schemas,
		executor: executor,
		metrics:  metrics,
		options:  options,
		tracer:   otel.Tracer(observability.InstrumentationName + "/compiler"),
	}
}

type graphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphQLResponse struct {
	Data   *responseData  `json:"data,omitempty"`
	Errors []graphQLError `json:"errors,omitempty"`
}

// responseData keeps root fields in selection order.
type responseData struct {
	keys   []string
	values map[string]any
}

func newResponseData() *responseData {
	return &responseData{values: map[string]any{}}
}

func (d *responseData) set(key string, value any) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

func (d *responseData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(d.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compiledField is one root field after planning. A nil plan means the field
// is answered without touching the database, or failed to compile.
type compiledField struct {
	key   string
	plan  *planner.Plan
	value any
	err   error
}

func (h *GraphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeResponse(w, r, http.StatusMethodNotAllowed, graphQLResponse{Errors: []graphQLError{
			newError(fmt.Sprintf("method %s is not allowed", r.Method), codeMethodNotAllowed),
		}})
		return
	}

	analysis := gqlrequest.AnalysisFromContext(ctx)
	if analysis == nil {
		analysis = gqlrequest.AnalyzeRequest(r)
	}
	if err := analysis.Err(); err != nil {
		writeResponse(w, r, http.StatusBadRequest, graphQLResponse{Errors: []graphQLError{newError(err.Error(), codeBadRequest)}})
		return
	}
	switch analysis.OperationType {
	case ast.OperationTypeSubscription:
		writeResponse(w, r, http.StatusBadRequest, graphQLResponse{Errors: []graphQLError{
			newError("subscriptions are not supported", codeUnsupported),
		}})
		return
	case ast.OperationTypeMutation:
		if r.Method == http.MethodGet {
			w.Header().Set("Allow", "POST")
			writeResponse(w, r, http.StatusMethodNotAllowed, graphQLResponse{Errors: []graphQLError{
				newError("mutations require POST", codeMethodNotAllowed),
			}})
			return
		}
	}

	fields, err := h.compile(ctx, analysis)
	if err != nil {
		writeResponse(w, r, http.StatusBadRequest, graphQLResponse{Errors: []graphQLError{toGraphQLError(ctx, err, nil)}})
		return
	}

	if h.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.options.Timeout)
		defer cancel()
	}

	if analysis.OperationType == ast.OperationTypeMutation && countPlans(fields) > 1 {
		h.executeInTransaction(ctx, fields)
	} else {
		for _, f := range fields {
			h.executeField(ctx, h.executor, f)
		}
	}

	resp := graphQLResponse{Data: newResponseData()}
	for _, f := range fields {
		resp.Data.set(f.key, f.value)
		if f.err != nil {
			resp.Errors = append(resp.Errors, toGraphQLError(ctx, f.err, []any{f.key}))
		}
	}
	if len(resp.Errors) > 0 {
		logger.Debug("request completed with errors", slog.Int("error_count", len(resp.Errors)))
	}
	writeResponse(w, r, http.StatusOK, resp)
}

// compile plans every root field. A field that fails to compile keeps its
// error and the remaining fields still run.
func (h *GraphQLHandler) compile(ctx context.Context, analysis *gqlrequest.Analysis) ([]*compiledField, error) {
	opts := h.options.planOptions(analysis)
	schema := h.schemas.Schema()
	rootType := analysis.RootTypeName()
	roots, err := planner.RootFields(analysis.Operation.SelectionSet, rootType, opts...)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	mutation := analysis.OperationType == ast.OperationTypeMutation
	fields := make([]*compiledField, 0, len(roots))
	for _, root := range roots {
		f := &compiledField{key: responseKey(root)}
		fields = append(fields, f)

		name := root.Name.Value
		if name == "__typename" {
			f.value = rootType
			continue
		}
		if strings.HasPrefix(name, "__") {
			f.err = &requestError{Code: codeUnsupported, Message: fmt.Sprintf("%s is not supported", name)}
			continue
		}
		if rf, ok := schema.FindRootField(name); ok && rf.Kind.IsMutation() != mutation {
			f.err = &requestError{Code: codeOperationMixup, Message: fmt.Sprintf("%s cannot be selected on %s", name, rootType)}
			continue
		}

		start := time.Now()
		plan, err := planner.PlanRootField(schema, root, opts...)
		if err != nil {
			f.err = err
			continue
		}
		f.plan = plan
		h.metrics.RecordCompile(ctx, time.Since(start), string(plan.Root.Kind), plan.Cost.Depth, plan.Cost.Rows, len(plan.Root.Args))
		logger.Debug("compiled root field",
			slog.String("field", f.key),
			slog.String("kind", string(plan.Root.Kind)),
			slog.String("sql", plan.Root.SQL),
			slog.Int("arg_count", len(plan.Root.Args)),
		)
	}
	return fields, nil
}

func (h *GraphQLHandler) executeField(ctx context.Context, exec dbexec.QueryExecutor, f *compiledField) {
	if f.plan == nil {
		return
	}
	ctx, span := h.tracer.Start(ctx, "graphql.field",
		trace.WithAttributes(
			attribute.String("graphql.field.key", f.key),
			attribute.String("graphql.statement.kind", string(f.plan.Root.Kind)),
			attribute.Int("graphql.statement.args", len(f.plan.Root.Args)),
		))
	defer span.End()

	start := time.Now()
	raw, err := dbexec.QueryJSON(ctx, exec, f.plan.Root.SQL, f.plan.Root.Args...)
	h.metrics.RecordExecute(ctx, time.Since(start), string(f.plan.Root.Kind), err == nil)
	if errors.Is(err, dbexec.ErrNoResult) {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.err = err
		return
	}

	value, err := connection.Decode(raw)
	if err == nil {
		value, err = connection.Finalize(value, f.plan.Shape)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		f.err = err
		return
	}
	f.value = value
}

// executeInTransaction runs the statements of a mutation operation with
// several root fields atomically. The first failure rolls back every field.
func (h *GraphQLHandler) executeInTransaction(ctx context.Context, fields []*compiledField) {
	logger := logging.FromContext(ctx)
	beginner, ok := h.executor.(dbexec.TxBeginner)
	if !ok {
		for _, f := range fields {
			h.executeField(ctx, h.executor, f)
		}
		return
	}

	tx, err := beginner.BeginTx(ctx)
	if err != nil {
		for _, f := range fields {
			if f.plan != nil {
				f.err = err
			}
		}
		return
	}

	failed := false
	for _, f := range fields {
		if f.plan == nil {
			continue
		}
		if failed {
			f.err = &requestError{Code: codeRolledBack, Message: "not executed: an earlier mutation failed"}
			continue
		}
		h.executeField(ctx, tx, f)
		if f.err != nil {
			failed = true
		}
	}

	if !failed {
		if err := tx.Commit(); err != nil {
			for _, f := range fields {
				if f.plan != nil {
					f.value = nil
					f.err = err
				}
			}
		}
		return
	}

	if err := tx.Rollback(); err != nil {
		logger.Warn("rollback failed", slog.String("error", err.Error()))
	}
	for _, f := range fields {
		if f.plan != nil && f.err == nil {
			f.value = nil
			f.err = &requestError{Code: codeRolledBack, Message: "rolled back: a later mutation failed"}
		}
	}
}

func countPlans(fields []*compiledField) int {
	n := 0
	for _, f := range fields {
		if f.plan != nil {
			n++
		}
	}
	return n
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	return field.Name.Value
}

// requestError is an error raised by the HTTP layer with a client-safe message.
type requestError struct {
	Code    string
	Message string
}

func (e *requestError) Error() string { return e.Message }

func (e *requestError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.Code}
}

type extensionsError interface {
	error
	Extensions() map[string]interface{}
}

// toGraphQLError converts err for the response. Errors without extensions
// may carry internal details, so only a generic message is returned and the
// error itself is logged.
func toGraphQLError(ctx context.Context, err error, path []any) graphQLError {
	var ext extensionsError
	if errors.As(err, &ext) {
		return graphQLError{Message: ext.Error(), Path: path, Extensions: ext.Extensions()}
	}
	logging.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))
	out := newError("internal error", codeInternal)
	out.Path = path
	return out
}

func newError(message, code string) graphQLError {
	return graphQLError{Message: message, Extensions: map[string]any{"code": code}}
}

type responseBody interface {
	graphQLErrors() []graphQLError
}

func (r graphQLResponse) graphQLErrors() []graphQLError { return r.Errors }
func (r compileResponse) graphQLErrors() []graphQLError { return r.Errors }

// writeResponse encodes body and reports its error codes to the request
// middleware.
func writeResponse(w http.ResponseWriter, r *http.Request, status int, body responseBody) {
	if errs := body.graphQLErrors(); len(errs) > 0 {
		codes := make([]string, len(errs))
		for i, e := range errs {
			codes[i], _ = e.Extensions["code"].(string)
		}
		middleware.ReportErrorCodes(r.Context(), codes...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
