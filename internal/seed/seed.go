// Package seed fills reference data that the schema migrations leave empty.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dateWindowYears = 1
	dateBatchSize   = 500
)

// EnsureDates makes dim_date cover one year either side of now.
// Existing rows are left untouched; it returns how many rows were added.
func EnsureDates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows := DateRange(today.AddDate(-dateWindowYears, 0, 0), today.AddDate(dateWindowYears, 0, 0))

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date_key"}}, DoNothing: true}).
		CreateInBatches(rows, dateBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("ensure dim_date: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DateRange builds one dimension row per day in [from, to].
func DateRange(from, to time.Time) []domain.DateDim {
	var rows []domain.DateDim
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		rows = append(rows, NewDateDim(d))
	}
	return rows
}

func NewDateDim(d time.Time) domain.DateDim {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	_, week := d.ISOWeek()
	weekday := d.Weekday()
	return domain.DateDim{
		DateKey:   d.Year()*10000 + int(d.Month())*100 + d.Day(),
		Date:      d,
		Year:      d.Year(),
		Quarter:   (int(d.Month())-1)/3 + 1,
		Month:     int(d.Month()),
		MonthName: d.Month().String(),
		Day:       d.Day(),
		DayOfWeek: int(weekday),
		Week:      week,
		IsWeekend: weekday == time.Saturday || weekday == time.Sunday,
	}
}
