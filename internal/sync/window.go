package sync

import "time"

const day = 24 * time.Hour

// WindowStart is midnight UTC, days before now.
func WindowStart(now time.Time, days int) time.Time {
	if days <= 0 {
		days = 30
	}
	return startOfDay(now).AddDate(0, 0, -days)
}

// CallWindow covers the days full days ending yesterday.
func CallWindow(now time.Time, days int) (time.Time, time.Time) {
	if days <= 0 {
		days = 30
	}
	end := startOfDay(now).Add(-day)
	return end.AddDate(0, 0, -(days - 1)), end
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
