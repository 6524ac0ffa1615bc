package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/sdk/log"
	"google.golang.org/grpc/credentials"
)

// LoggerProvider wraps the OpenTelemetry logger provider used by the slog bridge.
type LoggerProvider struct {
	provider *log.LoggerProvider
}

// InitLoggerProvider builds a logger provider exporting over OTLP. It is not
// installed globally; logging.NewLogger receives it explicitly.
func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	plan, err := planExporter(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := newLogExporter(context.Background(), plan)
	if err != nil {
		return nil, fmt.Errorf("create OTLP log exporter: %w", err)
	}
	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdown(ctx, logger, "logger provider", lp.provider.Shutdown)
}

// Provider returns the underlying SDK logger provider.
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}

func newLogExporter(ctx context.Context, p exporterPlan) (log.Exporter, error) {
	if p.protocol == otlpProtocolHTTP {
		opts := []otlploghttp.Option{otlploghttp.WithHeaders(p.headers)}
		if p.endpointURL {
			opts = append(opts, otlploghttp.WithEndpointURL(p.endpoint))
		} else {
			opts = append(opts, otlploghttp.WithEndpoint(p.endpoint))
		}
		if p.tls == nil {
			opts = append(opts, otlploghttp.WithInsecure())
		} else {
			opts = append(opts, otlploghttp.WithTLSClientConfig(p.tls))
		}
		if p.timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(p.timeout))
		}
		if p.gzip {
			opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
		}
		if p.retry {
			opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		return otlploghttp.New(ctx, opts...)
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(p.endpoint), otlploggrpc.WithHeaders(p.headers)}
	if p.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(p.tls)))
	}
	if p.timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(p.timeout))
	}
	if p.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if p.retry {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return otlploggrpc.New(ctx, opts...)
}
