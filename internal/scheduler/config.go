package scheduler

import (
	"time"

	"github.com/smallbiznis/abcmetrics/internal/config"
)

// Config controls the tick interval, enabled jobs and per-job timeouts.
type Config struct {
	Tick        time.Duration
	EnabledJobs []string
	// sources without credentials never get their sync jobs scheduled
	WorkizDisabled bool
	ElocalDisabled bool

	SyncTimeout      time.Duration
	ScrapeTimeout    time.Duration
	AggregateTimeout time.Duration
	RebuildTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:             time.Minute,
		SyncTimeout:      10 * time.Minute,
		ScrapeTimeout:    15 * time.Minute,
		AggregateTimeout: 10 * time.Minute,
		RebuildTimeout:   45 * time.Minute,
	}
}

// ProvideConfig derives scheduler settings from the application config.
func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Tick = cfg.Sync.SchedulerTick
	out.EnabledJobs = cfg.Sync.EnabledJobs
	out.WorkizDisabled = !cfg.Workiz.Enabled
	out.ElocalDisabled = !cfg.Elocal.Enabled
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = defaults.Tick
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = defaults.SyncTimeout
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = defaults.ScrapeTimeout
	}
	if c.AggregateTimeout <= 0 {
		c.AggregateTimeout = defaults.AggregateTimeout
	}
	if c.RebuildTimeout <= 0 {
		c.RebuildTimeout = defaults.RebuildTimeout
	}
	return c
}
