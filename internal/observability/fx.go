package observability

import (
	"github.com/smallbiznis/abcmetrics/internal/observability/logger"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the logger, tracer, otel meters and the prometheus collectors
// for scheduler runs, sync cycles and the HTTP surface.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		ProvideSyncMetrics,
	),
	fx.Invoke(func(_ *sdktrace.TracerProvider) {}),
	fx.Invoke(registerCollectors),
)

func provideLoggerConfig(cfg Config) logger.Config {
	debug := cfg.Debug()
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               debug,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

// registerCollectors registers the scheduler and sync collectors up front so
// /metrics exposes them before the first job runs.
func registerCollectors(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
	metrics.SyncWithConfig(cfg)
}

// ProvideSyncMetrics hands the shared sync collectors to constructors.
func ProvideSyncMetrics(cfg metrics.Config) *metrics.SyncMetrics {
	return metrics.SyncWithConfig(cfg)
}
