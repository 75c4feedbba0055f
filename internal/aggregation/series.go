package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"gorm.io/gorm"
)

// Longest ranges a single series read may cover.
const (
	MaxSeriesDays   = 366
	MaxSeriesMonths = 36
)

var ErrSeriesRange = errors.New("series range is empty or too long")

// SeriesFilter narrows which rollup cells are summed into each bucket.
type SeriesFilter struct {
	Source  string
	Segment string
}

// SeriesPoint is one bucket of a series. Buckets without rollup rows carry zero counts and nil ratios.
type SeriesPoint struct {
	Period time.Time `json:"period"`
	domain.MetricValues
}

type seriesRow struct {
	Period       time.Time
	Leads        int64
	Units        int64
	Repairs      int64
	Calls        int64
	RevenueGross decimal.Decimal
	RevenueNet   decimal.Decimal
	Cost         decimal.Decimal
	Profit       decimal.Decimal
	AdSpend      decimal.Decimal
}

// Series reads rollups for every bucket between from and to inclusive.
// It walks dim_date and left-joins the rollup table, so days or months with no activity
// still come back as points.
func Series(ctx context.Context, q *gorm.DB, g Granularity, from, to time.Time, filter SeriesFilter) ([]SeriesPoint, error) {
	from, to = g.Truncate(from), g.Truncate(to)
	if to.Before(from) || tooLong(g, from, to) {
		return nil, ErrSeriesRange
	}

	table, column := "daily_metrics", "date"
	if g == Month {
		table, column = "monthly_metrics", "month"
	}

	on := "m." + column + " = dd.date"
	args := []any{}
	if filter.Source != "" {
		on += " AND m.source = ?"
		args = append(args, filter.Source)
	}
	if filter.Segment != "" {
		on += " AND m.segment = ?"
		args = append(args, filter.Segment)
	}

	query := q.WithContext(ctx).Table("dim_date AS dd").
		Select(`dd.date AS period,
			COALESCE(SUM(m.leads), 0) AS leads,
			COALESCE(SUM(m.units), 0) AS units,
			COALESCE(SUM(m.repairs), 0) AS repairs,
			COALESCE(SUM(m.calls), 0) AS calls,
			COALESCE(SUM(m.revenue_gross), 0) AS revenue_gross,
			COALESCE(SUM(m.revenue_net), 0) AS revenue_net,
			COALESCE(SUM(m.cost), 0) AS cost,
			COALESCE(SUM(m.profit), 0) AS profit,
			COALESCE(SUM(m.ad_spend), 0) AS ad_spend`).
		Joins("LEFT JOIN "+table+" AS m ON "+on, args...).
		Where("dd.date >= ? AND dd.date <= ?", from, to)
	if g == Month {
		query = query.Where("dd.day = ?", 1)
	}

	var rows []seriesRow
	if err := query.Group("dd.date").Order("dd.date ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("read %s series: %w", g, err)
	}

	points := make([]SeriesPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, row.point())
	}
	return points, nil
}

func tooLong(g Granularity, from, to time.Time) bool {
	if g == Month {
		months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month()) + 1
		return months > MaxSeriesMonths
	}
	return int(to.Sub(from).Hours()/24)+1 > MaxSeriesDays
}

func (r seriesRow) point() SeriesPoint {
	values := domain.MetricValues{
		Leads:        r.Leads,
		Units:        r.Units,
		Repairs:      r.Repairs,
		Calls:        r.Calls,
		RevenueGross: r.RevenueGross.Round(2),
		RevenueNet:   r.RevenueNet.Round(2),
		Cost:         r.Cost.Round(2),
		Profit:       r.Profit.Round(2),
		AdSpend:      r.AdSpend.Round(2),
	}
	leads := decimal.NewFromInt(values.Leads)
	units := decimal.NewFromInt(values.Units)
	repairs := decimal.NewFromInt(values.Repairs)
	values.CPL = nullable(Ratio(values.Cost, leads))
	values.CostPerUnit = nullable(Ratio(values.Cost, units))
	values.ConvLeadUnit = nullable(Ratio(units, leads))
	values.ConvLeadRepair = nullable(Ratio(repairs, leads))
	values.ConvUnitRepair = nullable(Ratio(repairs, units))
	return SeriesPoint{Period: r.Period.UTC(), MetricValues: values}
}
