// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ModeOff     = "off"
	ModeSampled = "sampled"
	ModeAlways  = "always"
)

type Config struct {
	ServiceName string
	// Mode is one of off, sampled or always. Empty means off.
	Mode        string
	SampleRatio float64
}

// Runtime holds the installed provider.
type Runtime struct {
	Provider *sdktrace.TracerProvider
	Shutdown func(ctx context.Context) error
}

// Setup installs a tracer provider. Spans are sampled per Mode and are only
// exported when the caller registers a span processor on Provider.
func Setup(cfg Config) (Runtime, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "ticketwatch"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(name)),
	)
	if err != nil {
		return Runtime{}, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(Sampler(cfg.Mode, cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return Runtime{Provider: provider, Shutdown: provider.Shutdown}, nil
}

// Sampler maps a mode to a sampler.
func Sampler(mode string, ratio float64) sdktrace.Sampler {
	switch NormalizeMode(mode) {
	case ModeAlways:
		return sdktrace.AlwaysSample()
	case ModeSampled:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(min(max(ratio, 0), 1)))
	default:
		return sdktrace.NeverSample()
	}
}

func NormalizeMode(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case ModeSampled, ModeAlways:
		return m
	default:
		return ModeOff
	}
}
