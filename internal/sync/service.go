// Package sync runs one ingestion cycle per resource: fetch, normalize, store.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/elocal"
	"github.com/smallbiznis/abcmetrics/internal/fetcher"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/ingest/writer"
	"github.com/smallbiznis/abcmetrics/internal/normalize"
	"github.com/smallbiznis/abcmetrics/internal/observability/logger"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/workiz"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sync",
	fx.Provide(
		func(w *writer.Writer) Store { return w },
		func(w *writer.Writer) elocal.CallWriter { return w },
		func(c *workiz.Client) workiz.Source { return c },
		func(s *elocal.Scraper) CallScraper { return s },
		NewService,
	),
)

// Outcomes recorded per cycle.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Store is the subset of the writer used by cycles.
type Store interface {
	UpsertJobs(ctx context.Context, records []normalize.JobRecord) (domain.Result, error)
	UpsertLeads(ctx context.Context, records []normalize.LeadRecord) (domain.Result, error)
	UpsertPayments(ctx context.Context, payments []domain.Payment) (domain.Result, error)
}

// CallScraper downloads and stores calls for a date window.
type CallScraper interface {
	Sync(ctx context.Context, start, end time.Time) (elocal.SyncResult, error)
}

// CycleReport summarizes one resource cycle.
type CycleReport struct {
	ID         string    `json:"id"`
	Resource   string    `json:"resource"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Saved      int       `json:"saved"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
	Truncated  bool      `json:"truncated"`
	Outcome    string    `json:"outcome"`
}

type Params struct {
	fx.In

	Config  config.Config
	Source  workiz.Source
	Calls   CallScraper
	Store   Store
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	source         workiz.Source
	calls          CallScraper
	store          Store
	clock          clock.Clock
	log            *zap.Logger
	metrics        *metrics.Metrics
	windowDays     int
	callWindowDays int
}

func NewService(p Params) *Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		source:         p.Source,
		calls:          p.Calls,
		store:          p.Store,
		clock:          clk,
		log:            log.Named("sync"),
		metrics:        p.Metrics,
		windowDays:     p.Config.Sync.WindowDays,
		callWindowDays: p.Config.Sync.CallWindowDays,
	}
}

// Since is the start of the default fetch window.
func (s *Service) Since() time.Time {
	return WindowStart(s.clock.Now(), s.windowDays)
}

// CallWindow is the default scrape window.
func (s *Service) CallWindow() (time.Time, time.Time) {
	return CallWindow(s.clock.Now(), s.callWindowDays)
}

func (s *Service) SyncJobs(ctx context.Context, since time.Time) (CycleReport, error) {
	return s.run(ctx, domain.ResourceJobs, func(ctx context.Context, report *CycleReport) error {
		res, err := s.source.Jobs(ctx, since)
		if err != nil {
			return err
		}
		s.absorbFetch(ctx, report, res)

		now := s.clock.Now()
		records := make([]normalize.JobRecord, 0, len(res.Records))
		for _, raw := range res.Records {
			rec, err := normalize.Job(raw, now)
			if err != nil {
				s.skipRecord(ctx, report, raw, err)
				continue
			}
			records = append(records, rec)
		}
		written, err := s.store.UpsertJobs(ctx, records)
		return s.absorbWrite(report, written, err)
	})
}

func (s *Service) SyncLeads(ctx context.Context, since time.Time) (CycleReport, error) {
	return s.run(ctx, domain.ResourceLeads, func(ctx context.Context, report *CycleReport) error {
		res, err := s.source.Leads(ctx, since)
		if err != nil {
			return err
		}
		s.absorbFetch(ctx, report, res)

		now := s.clock.Now()
		records := make([]normalize.LeadRecord, 0, len(res.Records))
		for _, raw := range res.Records {
			rec, err := normalize.Lead(raw, now)
			if err != nil {
				s.skipRecord(ctx, report, raw, err)
				continue
			}
			records = append(records, rec)
		}
		written, err := s.store.UpsertLeads(ctx, records)
		return s.absorbWrite(report, written, err)
	})
}

func (s *Service) SyncPayments(ctx context.Context, since time.Time) (CycleReport, error) {
	return s.run(ctx, domain.ResourcePayments, func(ctx context.Context, report *CycleReport) error {
		res, err := s.source.Payments(ctx, since)
		if err != nil {
			return err
		}
		s.absorbFetch(ctx, report, res)

		now := s.clock.Now()
		payments := make([]domain.Payment, 0, len(res.Records))
		for _, raw := range res.Records {
			payment, err := normalize.Payment(raw, now)
			if err != nil {
				s.skipRecord(ctx, report, raw, err)
				continue
			}
			payments = append(payments, payment)
		}
		written, err := s.store.UpsertPayments(ctx, payments)
		return s.absorbWrite(report, written, err)
	})
}

func (s *Service) SyncCalls(ctx context.Context, start, end time.Time) (CycleReport, error) {
	return s.run(ctx, domain.ResourceCalls, func(ctx context.Context, report *CycleReport) error {
		res, err := s.calls.Sync(ctx, start, end)
		report.Fetched = res.Rows
		report.Skipped += sumSkipped(res.Skipped) + res.Write.Skipped
		report.Saved = res.Write.Saved
		report.Failed = len(res.Write.Errors)
		return err
	})
}

func (s *Service) run(ctx context.Context, resource string, fn func(context.Context, *CycleReport) error) (CycleReport, error) {
	report := CycleReport{
		ID:        ulid.Make().String(),
		Resource:  resource,
		StartedAt: s.clock.Now(),
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("cycle_id", report.ID),
		zap.String("resource", resource),
	)
	log.Info("sync.cycle.start")

	err := fn(ctx, &report)
	report.FinishedAt = s.clock.Now()

	outcome := OutcomeOK
	switch {
	case err != nil && report.Saved == 0:
		outcome = OutcomeFailed
	case err != nil || report.Failed > 0 || report.Aborted:
		outcome = OutcomePartial
	}
	report.Outcome = outcome
	s.metrics.RecordSyncCycle(ctx, resource, outcome)
	s.metrics.RecordIngested(ctx, resource, report.Saved, report.Skipped)

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("fetched", report.Fetched),
		zap.Int("saved", report.Saved),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("aborted", report.Aborted),
		zap.Bool("truncated", report.Truncated),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		log.Warn("sync.cycle.finish", append(fields, zap.Error(err))...)
		return report, fmt.Errorf("sync %s: %w", resource, err)
	}
	log.Info("sync.cycle.finish", fields...)
	return report, nil
}

// absorbFetch records fetch counters. An aborted fetch is absorbed here: the records it
// gathered are still written and the cycle ends as partial without an error.
func (s *Service) absorbFetch(ctx context.Context, report *CycleReport, res fetcher.Result) {
	report.Fetched = len(res.Records)
	report.Aborted = res.Aborted
	report.Truncated = res.Truncated
	if res.RateLimited > 0 {
		s.metrics.RecordRateLimited(ctx, "workiz", res.RateLimited)
	}
	if res.Aborted {
		logger.WithContext(ctx, s.log).Warn("sync.fetch.aborted",
			zap.String("resource", report.Resource),
			zap.Int("fetched", report.Fetched),
			zap.NamedError("last_error", res.LastErr),
		)
	}
}

func (s *Service) absorbWrite(report *CycleReport, written domain.Result, writeErr error) error {
	report.Saved = written.Saved
	report.Skipped += written.Skipped
	report.Failed = len(written.Errors)
	return writeErr
}

func (s *Service) skipRecord(ctx context.Context, report *CycleReport, raw normalize.Raw, err error) {
	report.Skipped++
	logger.WithContext(ctx, s.log).Debug("sync.record.skipped",
		zap.String("resource", report.Resource),
		zap.String("reason", err.Error()),
		zap.String("external_id", normalize.ExternalID(raw)),
	)
}

func sumSkipped(skipped map[string]int) int {
	total := 0
	for _, n := range skipped {
		total += n
	}
	return total
}
