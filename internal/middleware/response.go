package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

type outcomeContextKey struct{}

// outcome collects the GraphQL error codes a handler reports for one
// response. Logging, metrics and tracing share a single instance.
type outcome struct {
	mu    sync.Mutex
	codes []string
}

// withOutcome returns ctx carrying an outcome, reusing one installed by an
// outer middleware.
func withOutcome(ctx context.Context) (context.Context, *outcome) {
	if o, ok := ctx.Value(outcomeContextKey{}).(*outcome); ok {
		return ctx, o
	}
	o := &outcome{}
	return context.WithValue(ctx, outcomeContextKey{}, o), o
}

// ReportErrorCodes records the extensions.code of errors written in a
// GraphQL response. Empty codes count as INTERNAL_ERROR. Without one of this
// package's middlewares in the chain it does nothing.
func ReportErrorCodes(ctx context.Context, codes ...string) {
	o, ok := ctx.Value(outcomeContextKey{}).(*outcome)
	if !ok || len(codes) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, code := range codes {
		if code == "" {
			code = "INTERNAL_ERROR"
		}
		o.codes = append(o.codes, code)
	}
}

func (o *outcome) errorCodes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.codes...)
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Status is the written status, or 200 if the handler wrote nothing.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message    string         `json:"message"`
	Extensions errorExtension `json:"extensions"`
}

type errorExtension struct {
	Code string `json:"code"`
}

// writeGraphQLError rejects r with a single GraphQL-shaped error.
func writeGraphQLError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	ReportErrorCodes(r.Context(), code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Errors: []errorEntry{{
		Message:    message,
		Extensions: errorExtension{Code: code},
	}}})
}
