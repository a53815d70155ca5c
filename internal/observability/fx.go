// Package observability wires tracing and the prometheus instruments.
package observability

import (
	"strings"

	"github.com/smallbiznis/meterbill/internal/config"
	"github.com/smallbiznis/meterbill/internal/observability/metrics"
	"github.com/smallbiznis/meterbill/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		tracingConfig,
		tracing.NewProvider,
		metrics.New,
	),
	// The provider installs the global tracer; force its construction.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func tracingConfig(cfg config.Config) tracing.Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "meterbill"
	}
	return tracing.Config{
		Enabled:          cfg.TracingEnabled,
		ServiceName:      serviceName,
		ServiceVersion:   strings.TrimSpace(cfg.AppVersion),
		Environment:      strings.TrimSpace(cfg.Environment),
		ExporterEndpoint: cfg.OTLPEndpoint,
		SamplingRatio:    cfg.TracingSamplingRate,
	}
}
