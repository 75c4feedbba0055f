package normalize

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"01/02/2006 3:04:05 PM",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"Jan 2, 2006 3:04 PM",
}

// ParseDate parses the layouts seen across sources. Values without a zone are read as UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// Date returns the parsed value or fallback when raw is empty or unparseable.
// Falling back to the sync time keeps records that lack a date at the cost of attributing them to today.
func Date(raw any, fallback time.Time) time.Time {
	if t, ok := asTime(raw); ok {
		return t
	}
	return fallback
}

func asTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		return ParseDate(v)
	default:
		return time.Time{}, false
	}
}

// Duration parses SS, MM:SS or HH:MM:SS into seconds.
func Duration(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			if len(parts) == 1 {
				if f, ferr := strconv.ParseFloat(part, 64); ferr == nil && f >= 0 {
					return int(f), true
				}
			}
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}
