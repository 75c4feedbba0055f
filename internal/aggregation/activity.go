package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// activitySources are the fact columns whose dates make a day worth rebuilding.
var activitySources = []struct {
	table  string
	column string
}{
	{"fact_jobs", "occurred_at"},
	{"fact_payments", "paid_at"},
	{"fact_leads", "created_at"},
	{"calls", "date"},
	{"paid_leads", "date"},
	{"ad_spend", "date"},
}

// activityDays returns every day with a fact row, newest first.
func activityDays(ctx context.Context, q *gorm.DB) ([]time.Time, error) {
	seen := map[time.Time]struct{}{}
	for _, src := range activitySources {
		raw, err := distinctDates(ctx, q, src.table, src.column)
		if err != nil {
			return nil, fmt.Errorf("activity days in %s: %w", src.table, err)
		}
		for _, value := range raw {
			if len(value) < 10 {
				continue
			}
			day, err := time.Parse("2006-01-02", value[:10])
			if err != nil {
				continue
			}
			seen[day] = struct{}{}
		}
	}

	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

func distinctDates(ctx context.Context, q *gorm.DB, table, column string) ([]string, error) {
	rows, err := q.WithContext(ctx).
		Raw("SELECT DISTINCT DATE(" + column + ") FROM " + table + " WHERE " + column + " IS NOT NULL").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		if value.Valid {
			values = append(values, value.String)
		}
	}
	return values, rows.Err()
}
