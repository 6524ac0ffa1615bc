package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAuthMiddleware(t *testing.T) {
	mw, err := TokenAuthMiddleware(TokenAuthConfig{Token: "secret-token"})
	require.NoError(t, err)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong token", map[string]string{DefaultTokenHeader: "wrong-token"}, http.StatusUnauthorized},
		{"token header", map[string]string{DefaultTokenHeader: "secret-token"}, http.StatusNoContent},
		{"bearer token", map[string]string{"Authorization": "Bearer secret-token"}, http.StatusNoContent},
		{"basic auth is not accepted", map[string]string{"Authorization": "Basic secret-token"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/compile", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
			}
		})
	}
}

func TestTokenAuthMiddleware_RequiresToken(t *testing.T) {
	_, err := TokenAuthMiddleware(TokenAuthConfig{Token: "  "})
	assert.Error(t, err)
}
