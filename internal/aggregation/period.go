package aggregation

import (
	"fmt"
	"time"
)

// Granularity is the rollup bucket size.
type Granularity string

const (
	Day   Granularity = "daily"
	Month Granularity = "monthly"
)

// Truncate returns the start of the bucket containing t, in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the start of the bucket after the one containing t.
func (g Granularity) Next(t time.Time) time.Time {
	start := g.Truncate(t)
	if g == Month {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// Period is the half-open interval [Start, End).
type Period struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

func PeriodFor(g Granularity, t time.Time) Period {
	return Period{Start: g.Truncate(t), End: g.Next(t), Granularity: g}
}

func (p Period) String() string {
	if p.Granularity == Month {
		return p.Start.Format("2006-01")
	}
	return p.Start.Format("2006-01-02")
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(raw string) (Period, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return Period{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return PeriodFor(Day, t), nil
}

// ParseMonth parses YYYY-MM.
func ParseMonth(raw string) (Period, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return Period{}, fmt.Errorf("invalid month %q: %w", raw, err)
	}
	return PeriodFor(Month, t), nil
}
