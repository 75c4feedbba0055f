package server

import (
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/aggregation"
)

const (
	dateOnlyLayout = "2006-01-02"
	monthLayout    = "2006-01"
)

func parseOptionalDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		parsed = aggregation.Day.Truncate(parsed)
		return &parsed, nil
	}
	return nil, errors.New("invalid_date")
}

func parseOptionalMonth(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(monthLayout, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		parsed = aggregation.Month.Truncate(parsed)
		return &parsed, nil
	}
	return nil, errors.New("invalid_month")
}

func parseOptionalSegment(value string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	switch trimmed {
	case "", aggregation.SegmentCOD, aggregation.SegmentINS, aggregation.SegmentOther:
		return trimmed, nil
	default:
		return "", errors.New("invalid_segment")
	}
}
