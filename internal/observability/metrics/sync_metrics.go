package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	FetchOutcomeOK          = "ok"
	FetchOutcomeError       = "error"
	FetchOutcomeRateLimited = "rate_limited"
	FetchOutcomeUnknown     = "unknown_shape"

	WriterOutcomeSaved   = "saved"
	WriterOutcomeSkipped = "skipped"
	WriterOutcomeFailed  = "failed"
)

// SyncMetrics tracks source fetch, storage and rollup throughput.
type SyncMetrics struct {
	fetchPages       *prometheus.CounterVec
	fetchRecords     *prometheus.CounterVec
	fetchRateLimited *prometheus.CounterVec
	writerRows       *prometheus.CounterVec
	scraperSkipped   *prometheus.CounterVec
	aggregationRows  *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

// NewSyncMetricsForTest registers sync metrics on a private registry.
func NewSyncMetricsForTest(registerer prometheus.Registerer) *SyncMetrics {
	return newSyncMetrics(registerer, Config{Environment: "test"})
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	fetchPages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_fetch_pages_total",
		Help:        "Source pages requested by outcome.",
		ConstLabels: labels,
	}, []string{"source", "outcome"})
	fetchRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_fetch_records_total",
		Help:        "Records extracted from source pages.",
		ConstLabels: labels,
	}, []string{"source"})
	fetchRateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_fetch_rate_limited_total",
		Help:        "HTTP 429 answers received from a source.",
		ConstLabels: labels,
	}, []string{"source"})
	writerRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_writer_rows_total",
		Help:        "Rows handled by the idempotent writer.",
		ConstLabels: labels,
	}, []string{"resource", "outcome"})
	scraperSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_scraper_skipped_rows_total",
		Help:        "Export rows dropped by the call scraper.",
		ConstLabels: labels,
	}, []string{"reason"})
	aggregationRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "abcmetrics_aggregation_rows_total",
		Help:        "Rollup rows upserted.",
		ConstLabels: labels,
	}, []string{"granularity"})

	registerer.MustRegister(
		fetchPages,
		fetchRecords,
		fetchRateLimited,
		writerRows,
		scraperSkipped,
		aggregationRows,
	)

	return &SyncMetrics{
		fetchPages:       fetchPages,
		fetchRecords:     fetchRecords,
		fetchRateLimited: fetchRateLimited,
		writerRows:       writerRows,
		scraperSkipped:   scraperSkipped,
		aggregationRows:  aggregationRows,
	}
}

func (m *SyncMetrics) IncFetchPage(source, outcome string) {
	if m == nil {
		return
	}
	m.fetchPages.WithLabelValues(source, outcome).Inc()
}

func (m *SyncMetrics) AddFetchRecords(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.fetchRecords.WithLabelValues(source).Add(float64(count))
}

func (m *SyncMetrics) IncRateLimited(source string) {
	if m == nil {
		return
	}
	m.fetchRateLimited.WithLabelValues(source).Inc()
}

func (m *SyncMetrics) AddWriterRows(resource, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.writerRows.WithLabelValues(resource, outcome).Add(float64(count))
}

func (m *SyncMetrics) AddScraperSkipped(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.scraperSkipped.WithLabelValues(reason).Add(float64(count))
}

func (m *SyncMetrics) AddAggregationRows(granularity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.aggregationRows.WithLabelValues(granularity).Add(float64(count))
}
