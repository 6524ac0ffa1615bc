package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig configures Cross-Origin Resource Sharing (CORS) policies.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds; zero omits the header.
	MaxAge int
}

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", DefaultRoleHeader, RequestIDHeader}
)

// CORSMiddleware answers preflight requests and decorates responses to
// allowed origins. Browsers calling /graphql need the role and request ID
// headers, so those are allowed when no headers are configured.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   orDefault(cfg.AllowedMethods, defaultCORSMethods),
		AllowedHeaders:   orDefault(cfg.AllowedHeaders, defaultCORSHeaders),
		ExposedHeaders:   orDefault(cfg.ExposeHeaders, []string{RequestIDHeader}),
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
	return c.Handler
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
