package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// DefaultTokenHeader carries the shared token for protected endpoints.
const DefaultTokenHeader = "X-Compile-Token"

// TokenAuthConfig controls shared-token authentication for the compile and
// admin endpoints.
type TokenAuthConfig struct {
	Token      string
	HeaderName string
}

// TokenAuthMiddleware rejects requests whose token header does not match the
// configured token. A bearer Authorization header is accepted as well.
func TokenAuthMiddleware(cfg TokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = DefaultTokenHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			if provided == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					provided = strings.TrimSpace(bearer)
				}
			}
			if !constantTimeTokenMatch(provided, token) {
				writeGraphQLError(w, r, http.StatusUnauthorized, "unauthorized", "UNAUTHENTICATED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func constantTimeTokenMatch(provided string, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}
