package scheduler

import (
	"fmt"
	"time"
)

const everyHour = -1

// Schedule is a fixed UTC firing time: every hour at Minute, every day at
// Hour:Minute, or on Day of every month at Hour:Minute.
type Schedule struct {
	Minute int
	Hour   int
	Day    int
}

func Hourly(minute int) Schedule {
	return Schedule{Minute: minute, Hour: everyHour}
}

func Daily(hour, minute int) Schedule {
	return Schedule{Minute: minute, Hour: hour}
}

// Monthly fires on day (1-28) of every month.
func Monthly(day, hour, minute int) Schedule {
	return Schedule{Minute: minute, Hour: hour, Day: day}
}

// Prev returns the latest firing time at or before now.
func (s Schedule) Prev(now time.Time) time.Time {
	now = now.UTC()
	switch {
	case s.Hour == everyHour:
		t := now.Truncate(time.Hour).Add(time.Duration(s.Minute) * time.Minute)
		if t.After(now) {
			t = t.Add(-time.Hour)
		}
		return t
	case s.Day > 0:
		t := time.Date(now.Year(), now.Month(), s.Day, s.Hour, s.Minute, 0, 0, time.UTC)
		if t.After(now) {
			t = time.Date(now.Year(), now.Month()-1, s.Day, s.Hour, s.Minute, 0, 0, time.UTC)
		}
		return t
	default:
		t := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
		if t.After(now) {
			t = t.AddDate(0, 0, -1)
		}
		return t
	}
}

// Due reports whether a firing time passed after last and at or before now.
func (s Schedule) Due(last, now time.Time) bool {
	return s.Prev(now).After(last)
}

func (s Schedule) String() string {
	switch {
	case s.Hour == everyHour:
		return fmt.Sprintf("hourly at :%02d", s.Minute)
	case s.Day > 0:
		return fmt.Sprintf("monthly on day %d at %02d:%02d", s.Day, s.Hour, s.Minute)
	default:
		return fmt.Sprintf("daily at %02d:%02d", s.Hour, s.Minute)
	}
}
