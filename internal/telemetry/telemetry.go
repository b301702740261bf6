// Package telemetry installs the OpenTelemetry tracer provider. Spans are
// exported over OTLP/HTTP when an endpoint is configured; otherwise the
// global no-op provider stays in place.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultServiceName is reported when Config.ServiceName is empty.
const DefaultServiceName = "clarity"

// Config is the telemetry section of the configuration file.
type Config struct {
	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Empty disables
	// export.
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	ServiceName  string            `yaml:"service_name"`
	// SampleRatio is the fraction of traces kept, in (0, 1]. Defaults to 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SampleRatio <= 0 {
		c.SampleRatio = 1
	}
}

// Enabled reports whether spans are exported.
func (c Config) Enabled() bool {
	return c.OTLPEndpoint != ""
}

// Validate checks the sample ratio.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be in [0, 1], got %g", c.SampleRatio)
	}
	return nil
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider for cfg. The returned function
// must be called on shutdown; it is a no-op when export is disabled.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	cfg.Defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		logger.Debug("telemetry: export disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("telemetry: creating resource: %w", err), exporter.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("telemetry: exporting traces", "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// Sampler maps a ratio to a root sampler.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}
