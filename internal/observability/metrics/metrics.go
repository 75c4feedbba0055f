package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	syncCycles      metric.Int64Counter
	recordsIngested metric.Int64Counter
	rowsSkipped     metric.Int64Counter
	rateLimited     metric.Int64Counter
	rollupRows      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "abcmetrics"
	}
	meter := provider.Meter(name)

	syncCycles, err := meter.Int64Counter("abcmetrics_sync_cycles_total",
		metric.WithDescription("Completed sync cycles by resource and outcome."))
	if err != nil {
		return nil, err
	}
	recordsIngested, err := meter.Int64Counter("abcmetrics_records_ingested_total",
		metric.WithDescription("Records written to the fact store."))
	if err != nil {
		return nil, err
	}
	rowsSkipped, err := meter.Int64Counter("abcmetrics_records_skipped_total",
		metric.WithDescription("Records dropped during normalization or storage."))
	if err != nil {
		return nil, err
	}
	rateLimited, err := meter.Int64Counter("abcmetrics_source_rate_limited_total")
	if err != nil {
		return nil, err
	}
	rollupRows, err := meter.Int64Counter("abcmetrics_rollup_rows_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		syncCycles:      syncCycles,
		recordsIngested: recordsIngested,
		rowsSkipped:     rowsSkipped,
		rateLimited:     rateLimited,
		rollupRows:      rollupRows,
	}, nil
}

// RecordSyncCycle counts a finished cycle.
func (m *Metrics) RecordSyncCycle(ctx context.Context, resource, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource", strings.TrimSpace(resource)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.syncCycles.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIngested adds saved and skipped record counts for a resource.
func (m *Metrics) RecordIngested(ctx context.Context, resource string, saved, skipped int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("resource", strings.TrimSpace(resource)))
	if saved > 0 {
		m.recordsIngested.Add(ctx, int64(saved), metric.WithAttributes(attrs...))
	}
	if skipped > 0 {
		m.rowsSkipped.Add(ctx, int64(skipped), metric.WithAttributes(attrs...))
	}
}

// RecordRateLimited counts 429 answers from a source during one cycle.
func (m *Metrics) RecordRateLimited(ctx context.Context, source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.rateLimited.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRollupRows counts rollup rows written for a granularity.
func (m *Metrics) RecordRollupRows(ctx context.Context, granularity string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("granularity", strings.TrimSpace(granularity)))
	m.rollupRows.Add(ctx, int64(rows), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource":    {},
	"source":      {},
	"outcome":     {},
	"job":         {},
	"reason":      {},
	"granularity": {},
	"segment":     {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
