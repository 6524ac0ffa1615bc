package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider installs a global tracer provider exporting over OTLP.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	plan, err := planExporter(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := newSpanExporter(context.Background(), plan)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(samplerForRatio(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdown(ctx, logger, "tracer provider", tp.provider.Shutdown)
}

func newSpanExporter(ctx context.Context, p exporterPlan) (sdktrace.SpanExporter, error) {
	if p.protocol == otlpProtocolHTTP {
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(p.headers)}
		if p.endpointURL {
			opts = append(opts, otlptracehttp.WithEndpointURL(p.endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(p.endpoint))
		}
		if p.tls == nil {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(p.tls))
		}
		if p.timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(p.timeout))
		}
		if p.gzip {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		if p.retry {
			opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
				Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
			}))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.endpoint), otlptracegrpc.WithHeaders(p.headers)}
	if p.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(p.tls)))
	}
	if p.timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(p.timeout))
	}
	if p.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if p.retry {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled: true, InitialInterval: retryInitialInterval, MaxInterval: retryMaxInterval, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// samplerForRatio samples nothing at 0 and everything at 1. In between, a
// sampled or unsampled parent decides and only root spans use the ratio.
func samplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
