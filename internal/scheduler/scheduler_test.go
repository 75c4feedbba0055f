package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	obsmetrics "github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	syncsvc "github.com/smallbiznis/abcmetrics/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	since time.Time
}

func (f *fakeSyncer) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeSyncer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSyncer) Since() time.Time { return f.since }

func (f *fakeSyncer) CallWindow() (time.Time, time.Time) { return f.since, f.since }

func (f *fakeSyncer) SyncJobs(ctx context.Context, since time.Time) (syncsvc.CycleReport, error) {
	return syncsvc.CycleReport{Resource: "jobs", Saved: 3}, f.record("jobs")
}

func (f *fakeSyncer) SyncLeads(ctx context.Context, since time.Time) (syncsvc.CycleReport, error) {
	return syncsvc.CycleReport{Resource: "leads", Saved: 2}, f.record("leads")
}

func (f *fakeSyncer) SyncPayments(ctx context.Context, since time.Time) (syncsvc.CycleReport, error) {
	return syncsvc.CycleReport{Resource: "payments", Saved: 1}, f.record("payments")
}

func (f *fakeSyncer) SyncCalls(ctx context.Context, start, end time.Time) (syncsvc.CycleReport, error) {
	return syncsvc.CycleReport{Resource: "calls"}, f.record("calls")
}

type fakeAggregator struct {
	mu     sync.Mutex
	days   []time.Time
	months []time.Time
	full   int
}

func (f *fakeAggregator) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, day)
	return 4, nil
}

func (f *fakeAggregator) AggregateMonth(ctx context.Context, month time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.months = append(f.months, month)
	return 4, nil
}

func (f *fakeAggregator) ReaggregateAll(ctx context.Context) (aggregation.RebuildReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full++
	return aggregation.RebuildReport{Rows: 10}, nil
}

func newTestScheduler(t *testing.T, start time.Time, cfg Config) (*Scheduler, *fakeSyncer, *fakeAggregator) {
	t.Helper()
	useTestRegistry(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	syncer := &fakeSyncer{errs: map[string]error{}}
	agg := &fakeAggregator{}
	s, err := New(Params{
		Syncer:     syncer,
		Aggregator: agg,
		GenID:      node,
		Clock:      clock.NewFakeClock(start),
		Log:        zap.NewNop(),
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, syncer, agg
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	s, _, _ := newTestScheduler(t, time.Time{}, DefaultConfig())
	registry := useTestRegistry(t)
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "abcmetrics",
		Environment: "test",
	})

	report, err := s.runJob(context.Background(), Job{
		Name:    "timeout_job",
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context, _ time.Time) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.True(t, report.TimedOut)

	labels := map[string]string{
		"service": "abcmetrics",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "abcmetrics_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "abcmetrics",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "abcmetrics_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestScheduleDue(t *testing.T) {
	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return ts
	}

	cases := []struct {
		name     string
		schedule Schedule
		last     string
		now      string
		want     bool
	}{
		{"hourly fires after minute", Hourly(5), "2024-03-10T10:04:00Z", "2024-03-10T10:05:00Z", true},
		{"hourly already ran this hour", Hourly(5), "2024-03-10T10:05:00Z", "2024-03-10T10:59:00Z", false},
		{"hourly before minute", Hourly(10), "2024-03-10T09:05:00Z", "2024-03-10T10:09:59Z", true},
		{"hourly before minute same hour", Hourly(10), "2024-03-10T10:00:00Z", "2024-03-10T10:09:59Z", false},
		{"daily fires at hour", Daily(1, 0), "2024-03-10T00:59:00Z", "2024-03-10T01:00:30Z", true},
		{"daily not yet", Daily(4, 0), "2024-03-10T00:00:00Z", "2024-03-10T03:59:00Z", false},
		{"daily catches missed slot", Daily(3, 0), "2024-03-09T02:00:00Z", "2024-03-09T23:00:00Z", true},
		{"monthly on the first", Monthly(1, 2, 0), "2024-03-01T01:59:00Z", "2024-03-01T02:01:00Z", true},
		{"monthly mid month", Monthly(1, 2, 0), "2024-03-01T02:01:00Z", "2024-03-15T02:00:00Z", false},
		{"monthly across year end", Monthly(1, 2, 0), "2023-12-31T23:00:00Z", "2024-01-01T02:00:00Z", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.schedule.Due(at(tc.last), at(tc.now)))
		})
	}
}

func TestSchedulePrevMonthlyBeforeFirstWrapsToPreviousYear(t *testing.T) {
	now := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 12, 1, 2, 0, 0, 0, time.UTC), Monthly(1, 2, 0).Prev(now))
}

func TestRunOnceRunsWorkizChainInOrder(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 59, 30, 0, time.UTC)
	s, syncer, agg := newTestScheduler(t, start, DefaultConfig())

	now := time.Date(2024, 3, 1, 1, 10, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(context.Background(), now))

	assert.Equal(t, []string{"leads", "jobs", "payments"}, syncer.Calls())
	require.Len(t, agg.days, 1)
	assert.Equal(t, time.Date(2024, 2, 29, 1, 10, 0, 0, time.UTC), agg.days[0])
	assert.Empty(t, agg.months)
	assert.Zero(t, agg.full)

	// same slot, nothing runs twice
	require.NoError(t, s.RunOnce(context.Background(), now.Add(time.Minute)))
	assert.Len(t, syncer.Calls(), 3)
	assert.Len(t, agg.days, 1)
}

func TestRunOnceNothingDueRightAfterStartup(t *testing.T) {
	start := time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)
	s, syncer, agg := newTestScheduler(t, start, DefaultConfig())

	require.NoError(t, s.RunOnce(context.Background(), start.Add(time.Minute)))
	assert.Empty(t, syncer.Calls())
	assert.Empty(t, agg.days)
}

func TestRunOnceMonthlyAggregatesPreviousMonth(t *testing.T) {
	start := time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)
	s, _, agg := newTestScheduler(t, start, DefaultConfig())

	require.NoError(t, s.RunOnce(context.Background(), time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)))
	require.Len(t, agg.months, 1)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), agg.months[0])
}

func TestRunOnceFailureDoesNotStopOtherJobs(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 59, 30, 0, time.UTC)
	s, syncer, agg := newTestScheduler(t, start, DefaultConfig())
	leadsErr := errors.New("leads exploded")
	syncer.errs["leads"] = leadsErr

	err := s.RunOnce(context.Background(), time.Date(2024, 3, 1, 1, 10, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, leadsErr)
	assert.Contains(t, err.Error(), JobSyncLeads)

	assert.Equal(t, []string{"leads", "jobs", "payments"}, syncer.Calls())
	assert.Len(t, agg.days, 1)
}

func TestRunOnceSkipsDisabledSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkizDisabled = true
	start := time.Date(2024, 3, 1, 0, 59, 30, 0, time.UTC)
	s, syncer, agg := newTestScheduler(t, start, cfg)

	require.NoError(t, s.RunOnce(context.Background(), time.Date(2024, 3, 1, 1, 10, 0, 0, time.UTC)))
	assert.Empty(t, syncer.Calls())
	assert.Len(t, agg.days, 1)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledJobs = []string{"SYNC_JOBS"}
	start := time.Date(2024, 3, 1, 0, 59, 30, 0, time.UTC)
	s, syncer, agg := newTestScheduler(t, start, cfg)

	require.NoError(t, s.RunOnce(context.Background(), time.Date(2024, 3, 1, 1, 10, 0, 0, time.UTC)))
	assert.Equal(t, []string{"jobs"}, syncer.Calls())
	assert.Empty(t, agg.days)
}

func TestTrigger(t *testing.T) {
	s, syncer, agg := newTestScheduler(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), DefaultConfig())

	report, err := s.Trigger(context.Background(), JobSyncPayments)
	require.NoError(t, err)
	assert.Equal(t, JobSyncPayments, report.Job)
	assert.Equal(t, 1, report.Processed)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"payments"}, syncer.Calls())

	report, err = s.Trigger(context.Background(), JobReaggregateAll)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Processed)
	assert.Equal(t, 1, agg.full)

	_, err = s.Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestTriggerDisabledSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ElocalDisabled = true
	s, syncer, _ := newTestScheduler(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), cfg)

	_, err := s.Trigger(context.Background(), JobSyncCalls)
	assert.ErrorIs(t, err, ErrJobDisabled)
	assert.Empty(t, syncer.Calls())
}

func TestTriggerSkipsOverlappingRun(t *testing.T) {
	s, syncer, _ := newTestScheduler(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), DefaultConfig())

	s.guard(JobSyncJobs).Lock()
	defer s.guard(JobSyncJobs).Unlock()

	_, err := s.Trigger(context.Background(), JobSyncJobs)
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.Empty(t, syncer.Calls())
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	return registry
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
