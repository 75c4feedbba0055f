package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	syncsvc "github.com/smallbiznis/abcmetrics/internal/sync"
)

const (
	JobSyncJobs         = "sync_jobs"
	JobSyncLeads        = "sync_leads"
	JobSyncPayments     = "sync_payments"
	JobSyncCalls        = "sync_calls"
	JobAggregateDaily   = "aggregate_daily"
	JobAggregateMonthly = "aggregate_monthly"
	JobReaggregateAll   = "reaggregate_all"
)

// Jobs sharing a chain run one after another in table order. Chains run concurrently.
const (
	chainWorkiz      = "workiz"
	chainCalls       = "calls"
	chainAggregation = "aggregation"
)

// Syncer runs source ingestion cycles.
type Syncer interface {
	Since() time.Time
	CallWindow() (time.Time, time.Time)
	SyncJobs(ctx context.Context, since time.Time) (syncsvc.CycleReport, error)
	SyncLeads(ctx context.Context, since time.Time) (syncsvc.CycleReport, error)
	SyncPayments(ctx context.Context, since time.Time) (syncsvc.CycleReport, error)
	SyncCalls(ctx context.Context, start, end time.Time) (syncsvc.CycleReport, error)
}

// Aggregator rebuilds rollups.
type Aggregator interface {
	AggregateDay(ctx context.Context, day time.Time) (int, error)
	AggregateMonth(ctx context.Context, month time.Time) (int, error)
	ReaggregateAll(ctx context.Context) (aggregation.RebuildReport, error)
}

// Job is one entry of the fixed schedule. Run returns the number of records
// or rollup rows it processed.
type Job struct {
	Name     string
	Resource string
	Chain    string
	Schedule Schedule
	Timeout  time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

func (s *Scheduler) buildJobs() []Job {
	cycle := func(fn func(context.Context, time.Time) (syncsvc.CycleReport, error)) func(context.Context, time.Time) (int, error) {
		return func(ctx context.Context, _ time.Time) (int, error) {
			report, err := fn(ctx, s.syncer.Since())
			return report.Saved, err
		}
	}

	return []Job{
		// leads before jobs so a job can link to a lead seen in the same tick
		{
			Name: JobSyncLeads, Resource: "leads", Chain: chainWorkiz,
			Schedule: Hourly(5), Timeout: s.cfg.SyncTimeout,
			Run: cycle(s.syncer.SyncLeads),
		},
		{
			Name: JobSyncJobs, Resource: "jobs", Chain: chainWorkiz,
			Schedule: Hourly(0), Timeout: s.cfg.SyncTimeout,
			Run: cycle(s.syncer.SyncJobs),
		},
		{
			Name: JobSyncPayments, Resource: "payments", Chain: chainWorkiz,
			Schedule: Hourly(10), Timeout: s.cfg.SyncTimeout,
			Run: cycle(s.syncer.SyncPayments),
		},
		{
			Name: JobSyncCalls, Resource: "calls", Chain: chainCalls,
			Schedule: Daily(4, 0), Timeout: s.cfg.ScrapeTimeout,
			Run: func(ctx context.Context, _ time.Time) (int, error) {
				start, end := s.syncer.CallWindow()
				report, err := s.syncer.SyncCalls(ctx, start, end)
				return report.Saved, err
			},
		},
		{
			Name: JobAggregateDaily, Resource: "daily_metrics", Chain: chainAggregation,
			Schedule: Daily(1, 0), Timeout: s.cfg.AggregateTimeout,
			Run: func(ctx context.Context, now time.Time) (int, error) {
				return s.aggregator.AggregateDay(ctx, now.UTC().AddDate(0, 0, -1))
			},
		},
		{
			Name: JobAggregateMonthly, Resource: "monthly_metrics", Chain: chainAggregation,
			Schedule: Monthly(1, 2, 0), Timeout: s.cfg.AggregateTimeout,
			Run: func(ctx context.Context, now time.Time) (int, error) {
				return s.aggregator.AggregateMonth(ctx, aggregation.Month.Truncate(now).AddDate(0, -1, 0))
			},
		},
		{
			Name: JobReaggregateAll, Resource: "rollups", Chain: chainAggregation,
			Schedule: Daily(3, 0), Timeout: s.cfg.RebuildTimeout,
			Run: func(ctx context.Context, _ time.Time) (int, error) {
				report, err := s.aggregator.ReaggregateAll(ctx)
				return report.Rows, err
			},
		},
	}
}
