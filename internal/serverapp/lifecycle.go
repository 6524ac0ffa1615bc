package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"postgres-graphql/internal/config"
	"postgres-graphql/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

// closerStack releases resources in reverse order of acquisition.
type closerStack []namedCloser

type namedCloser struct {
	name  string
	close func(context.Context) error
}

func (s *closerStack) add(name string, fn func(context.Context) error) {
	*s = append(*s, namedCloser{name: name, close: fn})
}

// closeAll runs every closer, including those after a failing one.
func (s closerStack) closeAll(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for _, c := range slices.Backward(s) {
		logger.Info("shutting down " + c.name)
		if err := c.close(ctx); err != nil {
			logger.Warn("shutdown step failed",
				slog.String("component", c.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Start binds the listen address and serves in the background. The returned
// channel yields the error that ended serving and is closed afterwards.
// Calling Start again returns the same channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, errors.New("app is not initialized")
	}
	if a.serverErrors != nil {
		return a.serverErrors, nil
	}

	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.srv.Addr, err)
	}
	a.logger.Info("server listening", startupAttrs(a.cfg, ln.Addr().String())...)

	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		if err := a.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	a.serverErrors = errs
	return errs, nil
}

// Run starts the server and blocks until ctx is done or serving fails, then
// shuts the app down within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	serverErrors, err := a.Start()
	if err != nil {
		return errors.Join(err, a.shutdownWithTimeout())
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("stopped unexpectedly")
		}
		runErr = fmt.Errorf("server failed: %w", err)
	}
	return errors.Join(runErr, a.shutdownWithTimeout())
}

func (a *App) shutdownWithTimeout() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown releases everything Init acquired. Only the first call does any
// work; later calls return its result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		closers := a.closers
		a.stateMu.Unlock()

		a.shutdownErr = closers.closeAll(ctx, a.logger)
	})
	return a.shutdownErr
}

func startupAttrs(cfg *config.Config, addr string) []any {
	attrs := []any{
		slog.String("address", addr),
		slog.String("graphql_endpoint", graphqlPath),
		slog.String("health_endpoint", healthPath),
		slog.Bool("compile_endpoint", cfg.Server.CompileEndpointEnabled),
		slog.Bool("roles", cfg.Server.Roles.Enabled),
		slog.Int("default_page_size", cfg.Compiler.DefaultPageSize),
		slog.Int("max_page_size", cfg.Compiler.MaxPageSize),
	}
	if cfg.Observability.MetricsEnabled {
		attrs = append(attrs, slog.String("metrics_endpoint", metricsPath))
	}
	if cfg.Server.RateLimitEnabled {
		attrs = append(attrs,
			slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
			slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
		)
	}
	return attrs
}
