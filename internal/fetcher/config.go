package fetcher

import (
	"net/url"
	"time"
)

const (
	DefaultPageSize             = 100
	DefaultMaxRecords           = 10000
	DefaultMaxConsecutiveErrors = 3
	DefaultPageDelay            = 100 * time.Millisecond
	DefaultRetryAfter           = 5 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	defaultUserAgent            = "abcmetrics-sync/1.0"
)

// Config tunes pagination. Zero values take the defaults above.
type Config struct {
	BaseURL              string
	PageSize             int
	MaxRecords           int
	MaxConsecutiveErrors int
	PageDelay            time.Duration
	DefaultRetryAfter    time.Duration
	RequestTimeout       time.Duration
	UserAgent            string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.PageDelay <= 0 {
		c.PageDelay = DefaultPageDelay
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = DefaultRetryAfter
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// Endpoint is one paginated collection on a source.
type Endpoint struct {
	Source string // metrics and log label, e.g. "workiz"
	Name   string // resource, e.g. "jobs"
	Path   string
	Params url.Values
	// Keys are the object keys that may hold the record array, in priority order after "data".
	Keys []string
}
