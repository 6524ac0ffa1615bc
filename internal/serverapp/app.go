// Package serverapp wires configuration, the database, the schema model and
// the HTTP handlers into a runnable server with an explicit lifecycle:
// New, Init, then Run (or Start) and Shutdown.
package serverapp

import (
	"errors"
	"net/http"
	"sync"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/observability"
)

// App owns the server's runtime resources. Init acquires them, Run or Start
// serves, and Shutdown releases them in reverse order.
type App struct {
	cfg            *config.Config
	logger         *logging.Logger
	loggerProvider *observability.LoggerProvider

	stateMu      sync.Mutex
	initialized  bool
	schemas      SchemaSource
	handler      http.Handler
	srv          *http.Server
	closers      closerStack
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns an App that has not acquired anything yet.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider hands the OTLP logger provider to the app, which shuts
// it down last.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}

// Schema returns the active schema model. It is nil before Init.
func (a *App) Schema() *introspection.Schema {
	a.stateMu.Lock()
	schemas := a.schemas
	a.stateMu.Unlock()
	if schemas == nil {
		return nil
	}
	return schemas.Schema()
}
