package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresEnabledSourceCredentials(t *testing.T) {
	cfg := Config{
		Workiz: WorkizConfig{Enabled: true},
		Elocal: ElocalConfig{Enabled: true, BusinessID: "11809158"},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingCredential))
	assert.Contains(t, err.Error(), "WORKIZ_API_KEY")
	assert.Contains(t, err.Error(), "ELOCAL_USERNAME")
	assert.Contains(t, err.Error(), "ELOCAL_PASSWORD")
}

func TestValidateSkipsDisabledSources(t *testing.T) {
	cfg := Config{
		Workiz: WorkizConfig{Enabled: false},
		Elocal: ElocalConfig{Enabled: false},
	}
	assert.NoError(t, Validate(cfg))
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WORKIZ_API_URL", "https://example.test/")
	t.Setenv("SYNC_WINDOW_DAYS", "7")
	t.Setenv("SCHEDULER_ENABLED_JOBS", "sync_jobs, aggregate_daily ,")
	t.Setenv("SCHEDULER_TICK", "30s")

	cfg := Load()
	assert.Equal(t, "https://example.test", cfg.Workiz.APIURL)
	assert.Equal(t, 7, cfg.Sync.WindowDays)
	assert.Equal(t, []string{"sync_jobs", "aggregate_daily"}, cfg.Sync.EnabledJobs)
	assert.Equal(t, "30s", cfg.Sync.SchedulerTick.String())
	assert.Equal(t, "11809158", cfg.Elocal.BusinessID)
}

func TestValidateRulesRejectsBadTakeRate(t *testing.T) {
	rules := DefaultRules()
	assert.NoError(t, validateRules(rules))

	rules.TakeRate = 0
	assert.Error(t, validateRules(rules))

	rules = DefaultRules()
	rules.ServiceTypes = nil
	assert.Error(t, validateRules(rules))
}
