package aggregation

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"gorm.io/gorm"
)

// Strategy names accepted in the rules file.
const (
	StrategyPaidLeads     = "paid_leads"
	StrategyPerLead       = "per_lead"
	StrategyAdSpend       = "ad_spend"
	StrategyServiceVisits = "service_visits"
	StrategyLeadRows      = "lead_rows"
)

// Scope identifies one rollup cell while it is being computed.
type Scope struct {
	Period   Period
	Source   string
	SourceID int64
	Segment  string
	// Units is the number of unit jobs already counted for the cell.
	Units int64
}

// LeadStrategy counts leads and attributes cost for a family of sources.
type LeadStrategy interface {
	CountLeads(ctx context.Context, q *gorm.DB, s Scope) (int64, error)
	ComputeCost(ctx context.Context, q *gorm.DB, s Scope, leads int64) (decimal.Decimal, error)
}

// segmentScoped strategies report on every segment row. The rest only fill the OTHER row.
type segmentScoped interface {
	SegmentScoped() bool
}

// spendReporter strategies also report their cost as ad spend.
type spendReporter interface {
	ReportsAdSpend() bool
}

// StrategyTable resolves a source code to its strategy.
type StrategyTable struct {
	bySource map[string]LeadStrategy
	fallback LeadStrategy
}

func NewStrategyTable(rules config.Rules) StrategyTable {
	table := StrategyTable{
		bySource: make(map[string]LeadStrategy, len(rules.Strategies)),
		fallback: leadRows{},
	}
	for source, name := range rules.Strategies {
		table.bySource[source] = strategyByName(name, rules.PerLeadRates[source])
	}
	return table
}

func (t StrategyTable) For(source string) LeadStrategy {
	if s, ok := t.bySource[source]; ok {
		return s
	}
	return t.fallback
}

func strategyByName(name string, rate float64) LeadStrategy {
	switch name {
	case StrategyPaidLeads:
		return paidLeads{}
	case StrategyPerLead:
		return perLead{rate: decimal.NewFromFloat(rate)}
	case StrategyAdSpend:
		return adSpend{}
	case StrategyServiceVisits:
		return serviceVisits{}
	default:
		return leadRows{}
	}
}

func (s Scope) leads(q *gorm.DB) *gorm.DB {
	return q.Table("fact_leads").
		Where("source_id = ? AND created_at >= ? AND created_at < ?", s.SourceID, s.Period.Start, s.Period.End)
}

func countLeadRows(ctx context.Context, q *gorm.DB, s Scope) (int64, error) {
	if s.SourceID == 0 {
		return 0, nil
	}
	var n int64
	err := s.leads(q.WithContext(ctx)).Count(&n).Error
	return n, err
}

func sumLeadCost(ctx context.Context, q *gorm.DB, s Scope) (decimal.Decimal, error) {
	if s.SourceID == 0 {
		return decimal.Zero, nil
	}
	var total decimal.NullDecimal
	err := s.leads(q.WithContext(ctx)).Select("SUM(cost)").Row().Scan(&total)
	return total.Decimal, err
}

// paidLeads reads marketplace-billed leads. Only leads with a cost count.
type paidLeads struct{}

func (paidLeads) query(ctx context.Context, q *gorm.DB, s Scope) *gorm.DB {
	return q.WithContext(ctx).Table("paid_leads").
		Where("date >= ? AND date < ? AND cost > 0", s.Period.Start, s.Period.End)
}

func (p paidLeads) CountLeads(ctx context.Context, q *gorm.DB, s Scope) (int64, error) {
	var n int64
	err := p.query(ctx, q, s).Count(&n).Error
	return n, err
}

func (p paidLeads) ComputeCost(ctx context.Context, q *gorm.DB, s Scope, _ int64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := p.query(ctx, q, s).Select("SUM(cost)").Row().Scan(&total)
	return total.Decimal, err
}

// perLead uses recorded lead cost, or a flat rate per lead when none was recorded.
type perLead struct {
	rate decimal.Decimal
}

func (perLead) CountLeads(ctx context.Context, q *gorm.DB, s Scope) (int64, error) {
	return countLeadRows(ctx, q, s)
}

func (p perLead) ComputeCost(ctx context.Context, q *gorm.DB, s Scope, leads int64) (decimal.Decimal, error) {
	total, err := sumLeadCost(ctx, q, s)
	if err != nil {
		return decimal.Zero, err
	}
	if total.IsZero() {
		return p.rate.Mul(decimal.NewFromInt(leads)), nil
	}
	return total, nil
}

// adSpend counts lead rows and costs the period's campaign spend.
type adSpend struct{}

func (adSpend) CountLeads(ctx context.Context, q *gorm.DB, s Scope) (int64, error) {
	return countLeadRows(ctx, q, s)
}

func (adSpend) ComputeCost(ctx context.Context, q *gorm.DB, s Scope, _ int64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := q.WithContext(ctx).Table("ad_spend").
		Where("date >= ? AND date < ?", s.Period.Start, s.Period.End).
		Select("SUM(amount)").Row().Scan(&total)
	return total.Decimal, err
}

func (adSpend) ReportsAdSpend() bool { return true }

// serviceVisits is for free referral sources: a lead is a job that reached a service visit.
type serviceVisits struct{}

func (serviceVisits) CountLeads(_ context.Context, _ *gorm.DB, s Scope) (int64, error) {
	return s.Units, nil
}

func (serviceVisits) ComputeCost(context.Context, *gorm.DB, Scope, int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (serviceVisits) SegmentScoped() bool { return true }

// leadRows counts lead rows and sums their recorded cost.
type leadRows struct{}

func (leadRows) CountLeads(ctx context.Context, q *gorm.DB, s Scope) (int64, error) {
	return countLeadRows(ctx, q, s)
}

func (leadRows) ComputeCost(ctx context.Context, q *gorm.DB, s Scope, _ int64) (decimal.Decimal, error) {
	return sumLeadCost(ctx, q, s)
}
