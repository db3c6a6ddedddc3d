package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ProtocolGRPC = "otlp-grpc"
	ProtocolHTTP = "otlp-http"
	ProtocolNone = "none"
)

// OTLPConfig holds configuration for the OTLP exporter
type OTLPConfig struct {
	Endpoint string
	Protocol string
	Insecure bool
	Timeout  time.Duration
}

// New creates the span exporter for the configured protocol. ProtocolNone returns a nil exporter
// and spans are then dropped by the provider.
func New(ctx context.Context, config OTLPConfig) (sdktrace.SpanExporter, error) {
	switch config.Protocol {
	case ProtocolGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case ProtocolNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s (use %q, %q or %q)", config.Protocol, ProtocolGRPC, ProtocolHTTP, ProtocolNone)
	}
}
