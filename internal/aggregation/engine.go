// Package aggregation classifies jobs and rolls facts up into daily and monthly metrics.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/normalize"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("aggregation",
	fx.Provide(NewEngine),
)

const (
	rebuildDays   = 90
	rebuildMonths = 12
)

var metricColumns = []string{
	"leads", "units", "repairs", "revenue_gross", "revenue_net", "cost", "profit", "calls", "ad_spend",
	"cpl", "cost_per_unit", "conv_lead_unit", "conv_lead_repair", "conv_unit_repair", "updated_at",
}

// Key identifies a rollup cell within a period.
type Key struct {
	Source  string
	Segment string
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Rules       *config.RulesHolder
	Clock       clock.Clock
	Log         *zap.Logger
	Metrics     *metrics.Metrics     `optional:"true"`
	SyncMetrics *metrics.SyncMetrics `optional:"true"`
}

type Engine struct {
	db          *gorm.DB
	rules       *config.RulesHolder
	clock       clock.Clock
	log         *zap.Logger
	metrics     *metrics.Metrics
	syncMetrics *metrics.SyncMetrics

	// serializes writers of the same rollup rows inside this process
	mu sync.Mutex
}

func NewEngine(p Params) *Engine {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	rules := p.Rules
	if rules == nil {
		rules = config.NewStaticRulesHolder(config.DefaultRules())
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{
		db:          p.DB,
		rules:       rules,
		clock:       clk,
		log:         log.Named("aggregation"),
		metrics:     p.Metrics,
		syncMetrics: p.SyncMetrics,
	}
}

// calc holds one rules snapshot for the duration of a period.
type calc struct {
	rules      config.Rules
	classifier Classifier
	strategies StrategyTable
	takeRate   decimal.Decimal
}

func (e *Engine) snapshot() calc {
	rules := e.rules.Get()
	return calc{
		rules:      rules,
		classifier: NewClassifier(rules),
		strategies: NewStrategyTable(rules),
		takeRate:   decimal.NewFromFloat(rules.TakeRate),
	}
}

// Aggregate computes the metrics of one cell without writing anything.
func (e *Engine) Aggregate(ctx context.Context, period Period, source, segment string) (domain.MetricValues, error) {
	return e.snapshot().compute(ctx, e.db.WithContext(ctx), period, source, segment)
}

type jobRow struct {
	JobID string
	Type  string
	Paid  decimal.Decimal
}

func (c calc) compute(ctx context.Context, q *gorm.DB, period Period, source, segment string) (domain.MetricValues, error) {
	var values domain.MetricValues

	sourceID, err := lookupSourceID(ctx, q, source)
	if err != nil {
		return values, err
	}
	scope := Scope{Period: period, Source: source, SourceID: sourceID, Segment: segment}

	gross := decimal.Zero
	if sourceID != 0 {
		var jobs []jobRow
		err := q.WithContext(ctx).Table("fact_jobs AS j").
			Select("j.job_id AS job_id, j.type AS type, COALESCE(SUM(p.amount), 0) AS paid").
			Joins("LEFT JOIN fact_payments p ON p.job_id = j.job_id").
			Where("j.source_id = ? AND j.occurred_at >= ? AND j.occurred_at < ?", sourceID, period.Start, period.End).
			Group("j.job_id, j.type").
			Scan(&jobs).Error
		if err != nil {
			return values, fmt.Errorf("load jobs: %w", err)
		}
		for _, job := range jobs {
			if Segment(job.Type) != segment {
				continue
			}
			if c.classifier.IsUnit(job.Type) {
				values.Units++
			}
			if c.classifier.IsRepair(job.Type, job.Paid) {
				values.Repairs++
			}
			gross = gross.Add(job.Paid)
		}
	}
	scope.Units = values.Units

	strategy := c.strategies.For(source)
	scoped, _ := strategy.(segmentScoped)
	if (scoped != nil && scoped.SegmentScoped()) || segment == SegmentOther {
		leads, err := strategy.CountLeads(ctx, q, scope)
		if err != nil {
			return values, fmt.Errorf("count leads for %s: %w", source, err)
		}
		cost, err := strategy.ComputeCost(ctx, q, scope, leads)
		if err != nil {
			return values, fmt.Errorf("cost for %s: %w", source, err)
		}
		values.Leads = leads
		values.Cost = cost.Round(2)
		if spend, ok := strategy.(spendReporter); ok && spend.ReportsAdSpend() {
			values.AdSpend = values.Cost
		}
	}

	if segment == SegmentOther {
		err := q.WithContext(ctx).Model(&domain.Call{}).
			Where("source = ? AND date >= ? AND date < ?", source, period.Start, period.End).
			Count(&values.Calls).Error
		if err != nil {
			return values, fmt.Errorf("count calls: %w", err)
		}
	}

	values.RevenueGross = gross.Round(2)
	values.RevenueNet = gross.Mul(c.takeRate).Round(2)
	values.Profit = values.RevenueNet.Sub(values.Cost)

	leads := decimal.NewFromInt(values.Leads)
	units := decimal.NewFromInt(values.Units)
	repairs := decimal.NewFromInt(values.Repairs)
	values.CPL = nullable(Ratio(values.Cost, leads))
	values.CostPerUnit = nullable(Ratio(values.Cost, units))
	values.ConvLeadUnit = nullable(Ratio(units, leads))
	values.ConvLeadRepair = nullable(Ratio(repairs, leads))
	values.ConvUnitRepair = nullable(Ratio(repairs, units))
	return values, nil
}

// AggregatePeriod recomputes and upserts every cell with activity in the period, in one transaction.
// Cells that no longer have activity are removed.
func (e *Engine) AggregatePeriod(ctx context.Context, period Period) (rows int, err error) {
	ctx, span := tracing.Start(ctx, "aggregation.period",
		attribute.String("granularity", string(period.Granularity)),
		attribute.String("period", period.String()),
	)
	defer func() { tracing.End(span, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.snapshot()
	start := time.Now()
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keys, err := activeKeys(ctx, tx, period)
		if err != nil {
			return err
		}
		for _, key := range keys {
			values, err := c.compute(ctx, tx, period, key.Source, key.Segment)
			if err != nil {
				return err
			}
			if err := upsertRollup(ctx, tx, period, key, values); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", key.Source, key.Segment, err)
			}
		}
		rows = len(keys)
		return pruneRollups(ctx, tx, period, keys)
	})
	if err != nil {
		e.log.Error("aggregation.period.failed",
			zap.String("granularity", string(period.Granularity)),
			zap.String("period", period.String()),
			zap.Error(err),
		)
		return 0, fmt.Errorf("aggregate %s %s: %w", period.Granularity, period, err)
	}

	e.metrics.RecordRollupRows(ctx, string(period.Granularity), rows)
	e.syncMetrics.AddAggregationRows(string(period.Granularity), rows)
	e.log.Info("aggregation.period.done",
		zap.String("granularity", string(period.Granularity)),
		zap.String("period", period.String()),
		zap.Int("rows", rows),
		zap.Duration("duration", time.Since(start)),
	)
	return rows, nil
}

func (e *Engine) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	return e.AggregatePeriod(ctx, PeriodFor(Day, day))
}

func (e *Engine) AggregateMonth(ctx context.Context, month time.Time) (int, error) {
	return e.AggregatePeriod(ctx, PeriodFor(Month, month))
}

// RebuildReport summarizes a full re-aggregation.
type RebuildReport struct {
	Days   int `json:"days"`
	Months int `json:"months"`
	Rows   int `json:"rows"`
	Failed int `json:"failed"`
}

// ReaggregateAll recomputes the most recent active days and months.
// A failing period is logged and the rest still run.
func (e *Engine) ReaggregateAll(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	days, err := activityDays(ctx, e.db.WithContext(ctx))
	if err != nil {
		return report, err
	}

	months := map[time.Time]struct{}{}
	for _, d := range days {
		months[Month.Truncate(d)] = struct{}{}
	}
	monthList := make([]time.Time, 0, len(months))
	for m := range months {
		monthList = append(monthList, m)
	}
	sort.Slice(monthList, func(i, j int) bool { return monthList[i].After(monthList[j]) })

	if len(days) > rebuildDays {
		days = days[:rebuildDays]
	}
	if len(monthList) > rebuildMonths {
		monthList = monthList[:rebuildMonths]
	}

	var errs []error
	run := func(p Period) {
		if ctx.Err() != nil {
			return
		}
		n, err := e.AggregatePeriod(ctx, p)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			return
		}
		report.Rows += n
	}
	for i := len(days) - 1; i >= 0; i-- {
		run(PeriodFor(Day, days[i]))
		report.Days++
	}
	for i := len(monthList) - 1; i >= 0; i-- {
		run(PeriodFor(Month, monthList[i]))
		report.Months++
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	e.log.Info("aggregation.rebuild.done",
		zap.Int("days", report.Days),
		zap.Int("months", report.Months),
		zap.Int("rows", report.Rows),
		zap.Int("failed", report.Failed),
	)
	return report, errors.Join(errs...)
}

func lookupSourceID(ctx context.Context, q *gorm.DB, code string) (int64, error) {
	var src domain.Source
	err := q.WithContext(ctx).Where("code = ?", code).Limit(1).Find(&src).Error
	if err != nil {
		return 0, fmt.Errorf("lookup source %q: %w", code, err)
	}
	return src.ID, nil
}

// activeKeys lists the (source, segment) cells with any activity in the period.
func activeKeys(ctx context.Context, q *gorm.DB, period Period) ([]Key, error) {
	set := map[Key]struct{}{}
	q = q.WithContext(ctx)

	var jobs []struct {
		Code string
		Type string
	}
	err := q.Table("fact_jobs AS j").
		Select("DISTINCT COALESCE(s.code, ?) AS code, j.type AS type", normalize.SourceUnknown).
		Joins("LEFT JOIN dim_source s ON s.id = j.source_id").
		Where("j.occurred_at >= ? AND j.occurred_at < ?", period.Start, period.End).
		Scan(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("job sources: %w", err)
	}
	for _, j := range jobs {
		set[Key{Source: j.Code, Segment: Segment(j.Type)}] = struct{}{}
	}

	var leadSources []string
	err = q.Table("fact_leads AS l").
		Select("DISTINCT COALESCE(s.code, ?)", normalize.SourceUnknown).
		Joins("LEFT JOIN dim_source s ON s.id = l.source_id").
		Where("l.created_at >= ? AND l.created_at < ?", period.Start, period.End).
		Scan(&leadSources).Error
	if err != nil {
		return nil, fmt.Errorf("lead sources: %w", err)
	}
	for _, code := range leadSources {
		set[Key{Source: code, Segment: SegmentOther}] = struct{}{}
	}

	var callSources []string
	err = q.Model(&domain.Call{}).
		Distinct("source").
		Where("date >= ? AND date < ?", period.Start, period.End).
		Pluck("source", &callSources).Error
	if err != nil {
		return nil, fmt.Errorf("call sources: %w", err)
	}
	for _, code := range callSources {
		set[Key{Source: code, Segment: SegmentOther}] = struct{}{}
	}

	var paid int64
	if err := q.Model(&domain.PaidLead{}).Where("date >= ? AND date < ?", period.Start, period.End).Count(&paid).Error; err != nil {
		return nil, fmt.Errorf("paid leads: %w", err)
	}
	if paid > 0 {
		set[Key{Source: normalize.SourceElocals, Segment: SegmentOther}] = struct{}{}
	}

	var spend int64
	if err := q.Model(&domain.AdSpend{}).Where("date >= ? AND date < ?", period.Start, period.End).Count(&spend).Error; err != nil {
		return nil, fmt.Errorf("ad spend: %w", err)
	}
	if spend > 0 {
		set[Key{Source: normalize.SourceGoogle, Segment: SegmentOther}] = struct{}{}
	}

	keys := make([]Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Segment < keys[j].Segment
	})
	return keys, nil
}

func upsertRollup(ctx context.Context, tx *gorm.DB, period Period, key Key, values domain.MetricValues) error {
	switch period.Granularity {
	case Month:
		row := domain.MonthlyMetric{Month: period.Start, Source: key.Source, Segment: key.Segment, MetricValues: values}
		return tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "month"}, {Name: "source"}, {Name: "segment"}},
			DoUpdates: clause.AssignmentColumns(metricColumns),
		}).Create(&row).Error
	default:
		row := domain.DailyMetric{Date: period.Start, Source: key.Source, Segment: key.Segment, MetricValues: values}
		return tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}, {Name: "source"}, {Name: "segment"}},
			DoUpdates: clause.AssignmentColumns(metricColumns),
		}).Create(&row).Error
	}
}

func pruneRollups(ctx context.Context, tx *gorm.DB, period Period, keys []Key) error {
	active := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		active[k] = struct{}{}
	}

	var existing []struct {
		ID      int64
		Source  string
		Segment string
	}
	table, column := "daily_metrics", "date"
	if period.Granularity == Month {
		table, column = "monthly_metrics", "month"
	}
	if err := tx.WithContext(ctx).Table(table).Select("id, source, segment").
		Where(column+" = ?", period.Start).Scan(&existing).Error; err != nil {
		return err
	}

	var stale []int64
	for _, row := range existing {
		if _, ok := active[Key{Source: row.Source, Segment: row.Segment}]; !ok {
			stale = append(stale, row.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if period.Granularity == Month {
		return tx.WithContext(ctx).Delete(&domain.MonthlyMetric{}, stale).Error
	}
	return tx.WithContext(ctx).Delete(&domain.DailyMetric{}, stale).Error
}
