// Package writer upserts normalized facts keyed by their natural keys.
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/cache"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/normalize"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ingest.writer",
	fx.Provide(New),
)

var (
	jobColumns = []string{
		"occurred_at", "scheduled_at", "end_at", "last_status_update", "type", "status", "sub_status",
		"technician", "client_id", "price", "amount_due", "item_cost", "labor_cost", "total_cost",
		"contact_name", "contact_phone", "contact_email", "address", "city", "state", "zip",
		"raw_source", "lead_id", "source_id", "meta", "updated_at_db",
	}
	leadColumns = []string{
		"created_at", "status", "sub_status", "contact_name", "contact_phone", "phone_hash",
		"contact_email", "address", "zip", "raw_source", "source_id", "cost", "job_id", "meta", "updated_at_db",
	}
	paymentColumns  = []string{"job_id", "paid_at", "amount", "method", "meta", "updated_at_db"}
	callColumns     = []string{"date", "duration", "call_type", "source", "updated_at"}
	paidLeadColumns = []string{"date", "cost", "status", "updated_at"}
	adSpendColumns  = []string{"amount", "updated_at"}
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Metrics *metrics.SyncMetrics `optional:"true"`
}

// Writer stores each batch in one transaction with a savepoint per row,
// so a failing row is rolled back alone and counted.
type Writer struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *metrics.SyncMetrics
	sources cache.SourceCache

	dims      repository.Repository[domain.Source]
	jobs      repository.Repository[domain.Job]
	leads     repository.Repository[domain.Lead]
	payments  repository.Repository[domain.Payment]
	calls     repository.Repository[domain.Call]
	paidLeads repository.Repository[domain.PaidLead]
	adSpend   repository.Repository[domain.AdSpend]
}

func New(p Params) *Writer {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:        p.DB,
		log:       log.Named("ingest.writer"),
		metrics:   p.Metrics,
		sources:   cache.NewSourceCache(),
		dims:      repository.ProvideStore[domain.Source](p.DB, []string{"code"}, []string{"name"}),
		jobs:      repository.ProvideStore[domain.Job](p.DB, []string{"job_id"}, jobColumns),
		leads:     repository.ProvideStore[domain.Lead](p.DB, []string{"lead_id"}, leadColumns),
		payments:  repository.ProvideStore[domain.Payment](p.DB, []string{"payment_id"}, paymentColumns),
		calls:     repository.ProvideStore[domain.Call](p.DB, []string{"call_id"}, callColumns),
		paidLeads: repository.ProvideStore[domain.PaidLead](p.DB, []string{"lead_id"}, paidLeadColumns),
		adSpend:   repository.ProvideStore[domain.AdSpend](p.DB, []string{"date", "campaign"}, adSpendColumns),
	}
}

// batch tracks source ids resolved inside an uncommitted transaction.
type batch struct {
	tx      *gorm.DB
	pending map[string]int64
	rowNew  []string
}

type row struct {
	key    string
	source string
	// skip is a record error detected before touching the database.
	skip  error
	write func(ctx context.Context, b *batch) error
}

func (w *Writer) UpsertJobs(ctx context.Context, records []normalize.JobRecord) (domain.Result, error) {
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		job := rec.Job
		source := rec.Source
		rows = append(rows, row{
			key:    job.JobID,
			source: source,
			skip:   requireKey(job.JobID),
			write: func(ctx context.Context, b *batch) error {
				id, err := w.resolve(ctx, b, source)
				if err != nil {
					return err
				}
				job.SourceID = id
				return w.jobs.WithTrx(b.tx).Upsert(ctx, &job)
			},
		})
	}
	return w.upsert(ctx, domain.ResourceJobs, rows)
}

func (w *Writer) UpsertLeads(ctx context.Context, records []normalize.LeadRecord) (domain.Result, error) {
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		lead := rec.Lead
		source := rec.Source
		rows = append(rows, row{
			key:    lead.LeadID,
			source: source,
			skip:   requireKey(lead.LeadID),
			write: func(ctx context.Context, b *batch) error {
				id, err := w.resolve(ctx, b, source)
				if err != nil {
					return err
				}
				lead.SourceID = id
				return w.leads.WithTrx(b.tx).Upsert(ctx, &lead)
			},
		})
	}
	return w.upsert(ctx, domain.ResourceLeads, rows)
}

func (w *Writer) UpsertPayments(ctx context.Context, payments []domain.Payment) (domain.Result, error) {
	rows := make([]row, 0, len(payments))
	for _, payment := range payments {
		payment := payment
		skip := requireKey(payment.PaymentID)
		if skip == nil && strings.TrimSpace(payment.JobID) == "" {
			skip = domain.ErrMissingJob
		}
		rows = append(rows, row{
			key:  payment.PaymentID,
			skip: skip,
			write: func(ctx context.Context, b *batch) error {
				return w.payments.WithTrx(b.tx).Upsert(ctx, &payment)
			},
		})
	}
	return w.upsert(ctx, domain.ResourcePayments, rows)
}

func (w *Writer) UpsertCalls(ctx context.Context, calls []domain.Call) (domain.Result, error) {
	rows := make([]row, 0, len(calls))
	for _, call := range calls {
		call := call
		if call.Source == "" {
			call.Source = normalize.SourceElocals
		}
		rows = append(rows, row{
			key:    call.CallID,
			source: call.Source,
			skip:   requireKey(call.CallID),
			write: func(ctx context.Context, b *batch) error {
				return w.calls.WithTrx(b.tx).Upsert(ctx, &call)
			},
		})
	}
	return w.upsert(ctx, domain.ResourceCalls, rows)
}

func (w *Writer) UpsertPaidLeads(ctx context.Context, leads []domain.PaidLead) (domain.Result, error) {
	rows := make([]row, 0, len(leads))
	for _, lead := range leads {
		lead := lead
		rows = append(rows, row{
			key:    lead.LeadID,
			source: normalize.SourceElocals,
			skip:   requireKey(lead.LeadID),
			write: func(ctx context.Context, b *batch) error {
				return w.paidLeads.WithTrx(b.tx).Upsert(ctx, &lead)
			},
		})
	}
	return w.upsert(ctx, domain.ResourcePaidLeads, rows)
}

func (w *Writer) UpsertAdSpend(ctx context.Context, spend []domain.AdSpend) (domain.Result, error) {
	rows := make([]row, 0, len(spend))
	for _, item := range spend {
		item := item
		item.Date = item.Date.UTC().Truncate(24 * time.Hour)
		rows = append(rows, row{
			key:    item.Date.Format("2006-01-02") + "/" + item.Campaign,
			source: normalize.SourceGoogle,
			skip:   requireKey(item.Campaign),
			write: func(ctx context.Context, b *batch) error {
				return w.adSpend.WithTrx(b.tx).Upsert(ctx, &item)
			},
		})
	}
	return w.upsert(ctx, domain.ResourceAdSpend, rows)
}

func (w *Writer) upsert(ctx context.Context, resource string, rows []row) (domain.Result, error) {
	var res domain.Result
	if len(rows) == 0 {
		return res, nil
	}

	b := &batch{pending: map[string]int64{}}
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b.tx = tx
		for _, r := range rows {
			if r.skip != nil {
				res.Skipped++
				w.log.Debug("writer.row.skipped",
					zap.String("resource", resource),
					zap.String("key", r.key),
					zap.Error(r.skip),
				)
				continue
			}
			b.rowNew = b.rowNew[:0]
			rowErr := tx.Transaction(func(rowTx *gorm.DB) error {
				b.tx = rowTx
				defer func() { b.tx = tx }()
				return r.write(ctx, b)
			})
			if rowErr == nil {
				res.Saved++
				continue
			}
			if errors.Is(rowErr, context.Canceled) || errors.Is(rowErr, context.DeadlineExceeded) {
				return rowErr
			}
			// source rows inserted inside the failed savepoint are gone
			for _, code := range b.rowNew {
				delete(b.pending, code)
			}
			res.Errors = append(res.Errors, domain.RowError{Key: r.key, Source: r.source, Err: rowErr})
			w.log.Warn("writer.row.failed",
				zap.String("resource", resource),
				zap.String("key", r.key),
				zap.String("source", r.source),
				zap.Error(rowErr),
			)
		}
		return nil
	})
	if err != nil {
		w.metrics.AddWriterRows(resource, metrics.WriterOutcomeFailed, len(rows))
		w.log.Error("writer.batch.failed", zap.String("resource", resource), zap.Int("rows", len(rows)), zap.Error(err))
		return domain.Result{}, fmt.Errorf("upsert %s: %w", resource, err)
	}

	for code, id := range b.pending {
		w.sources.SetSource(code, id)
	}
	w.metrics.AddWriterRows(resource, metrics.WriterOutcomeSaved, res.Saved)
	w.metrics.AddWriterRows(resource, metrics.WriterOutcomeSkipped, res.Skipped)
	w.metrics.AddWriterRows(resource, metrics.WriterOutcomeFailed, len(res.Errors))
	w.log.Info("writer.batch.done",
		zap.String("resource", resource),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Errors)),
	)
	return res, nil
}

// ResolveSource returns the dimension id for a raw source label, creating the row on first sight.
func (w *Writer) ResolveSource(ctx context.Context, tx *gorm.DB, raw string) (int64, error) {
	code := sourceCode(raw)
	if id, ok := w.sources.GetSource(code); ok {
		return id, nil
	}
	id, err := w.upsertSource(ctx, tx, code)
	if err != nil {
		return 0, err
	}
	w.sources.SetSource(code, id)
	return id, nil
}

func (w *Writer) resolve(ctx context.Context, b *batch, raw string) (int64, error) {
	code := sourceCode(raw)
	if id, ok := w.sources.GetSource(code); ok {
		return id, nil
	}
	if id, ok := b.pending[code]; ok {
		return id, nil
	}
	id, err := w.upsertSource(ctx, b.tx, code)
	if err != nil {
		return 0, err
	}
	b.pending[code] = id
	b.rowNew = append(b.rowNew, code)
	return id, nil
}

// upsertSource reads the id back by code because the conflict path leaves src.ID unset.
func (w *Writer) upsertSource(ctx context.Context, tx *gorm.DB, code string) (int64, error) {
	dims := w.dims.WithTrx(tx)
	src := domain.Source{Code: code, Name: normalize.SourceName(code)}
	if err := dims.Upsert(ctx, &src); err != nil {
		return 0, fmt.Errorf("upsert source %q: %w", code, err)
	}

	stored, err := dims.FindOne(ctx, &domain.Source{Code: code})
	if err != nil {
		return 0, fmt.Errorf("load source %q: %w", code, err)
	}
	return stored.ID, nil
}

func sourceCode(raw string) string {
	code := normalize.SourceCode(raw)
	if code == "" {
		return normalize.SourceUnknown
	}
	return code
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return domain.ErrMissingKey
	}
	return nil
}
