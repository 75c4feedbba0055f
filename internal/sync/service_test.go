package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/clock"
	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/elocal"
	"github.com/smallbiznis/abcmetrics/internal/fetcher"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/ingest/writer"
	"github.com/smallbiznis/abcmetrics/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeSource struct {
	jobs, leads, payments fetcher.Result
	since                 time.Time
}

func (f *fakeSource) Jobs(_ context.Context, since time.Time) (fetcher.Result, error) {
	f.since = since
	return f.jobs, nil
}

func (f *fakeSource) Leads(_ context.Context, since time.Time) (fetcher.Result, error) {
	f.since = since
	return f.leads, nil
}

func (f *fakeSource) Payments(_ context.Context, since time.Time) (fetcher.Result, error) {
	f.since = since
	return f.payments, nil
}

type fakeScraper struct {
	res        elocal.SyncResult
	err        error
	start, end time.Time
}

func (f *fakeScraper) Sync(_ context.Context, start, end time.Time) (elocal.SyncResult, error) {
	f.start, f.end = start, end
	return f.res, f.err
}

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func setupService(t *testing.T, source *fakeSource, scraper *fakeScraper) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(domain.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Config{Sync: config.SyncConfig{WindowDays: 30, CallWindowDays: 30}}
	svc := NewService(Params{
		Config: cfg,
		Source: source,
		Calls:  scraper,
		Store:  writer.New(writer.Params{DB: conn, Log: zap.NewNop()}),
		Clock:  clock.NewFakeClock(testNow),
		Log:    zap.NewNop(),
	})
	return svc, conn
}

func TestSyncJobsSkipsRecordsWithoutKey(t *testing.T) {
	source := &fakeSource{jobs: fetcher.Result{Records: []map[string]any{
		{"UUID": "job-1", "JobType": "COD Service", "JobSource": "Google", "JobDateTime": "2024-03-14 09:00:00"},
		{"UUID": "job-2", "JobType": "INS Repair", "JobSource": "rely"},
		{"JobType": "COD Service"},
	}}}
	svc, conn := setupService(t, source, &fakeScraper{})

	report, err := svc.SyncJobs(context.Background(), svc.Since())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, domain.ResourceJobs, report.Resource)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.Saved)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), source.since)

	var count int64
	require.NoError(t, conn.Model(&domain.Job{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestSyncPaymentsAbsorbsAbortedFetch(t *testing.T) {
	source := &fakeSource{payments: fetcher.Result{
		Records: []map[string]any{
			{"UUID": "pay-1", "JobUUID": "job-1", "Amount": "120.50", "Date": "2024-03-14"},
			{"UUID": "pay-2", "JobUUID": "job-1", "Amount": "not money"},
		},
		Aborted: true,
		LastErr: errors.New("status 502"),
	}}
	svc, conn := setupService(t, source, &fakeScraper{})

	report, err := svc.SyncPayments(context.Background(), svc.Since())
	require.NoError(t, err)
	assert.True(t, report.Aborted)
	assert.Equal(t, OutcomePartial, report.Outcome)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 1, report.Skipped)

	var count int64
	require.NoError(t, conn.Model(&domain.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSyncLogsSkippedRecords(t *testing.T) {
	source := &fakeSource{payments: fetcher.Result{Records: []map[string]any{
		{"UUID": "pay-1", "Amount": "10"},
		{"Amount": "10"},
	}}}
	svc, _ := setupService(t, source, &fakeScraper{})
	core, logs := observer.New(zap.DebugLevel)
	svc.log = zap.New(core)

	report, err := svc.SyncPayments(context.Background(), svc.Since())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, OutcomeOK, report.Outcome)

	skipped := logs.FilterMessage("sync.record.skipped").All()
	require.Len(t, skipped, 2)
	first := skipped[0].ContextMap()
	assert.Equal(t, domain.ResourcePayments, first["resource"])
	assert.Equal(t, "pay-1", first["external_id"])
	assert.Contains(t, first["reason"], domain.ErrMissingJob.Error())
	assert.Equal(t, "", skipped[1].ContextMap()["external_id"])
	assert.Equal(t, zap.DebugLevel, skipped[0].Level)
}

func TestSyncLeadsAssignsSourceDimension(t *testing.T) {
	source := &fakeSource{leads: fetcher.Result{Records: []map[string]any{
		{"UUID": "lead-1", "JobSource": "Pro Referral", "Status": "New", "Phone": "+1 (234) 567-8901"},
	}}}
	svc, conn := setupService(t, source, &fakeScraper{})

	_, err := svc.SyncLeads(context.Background(), svc.Since())
	require.NoError(t, err)

	var lead domain.Lead
	require.NoError(t, conn.Where("lead_id = ?", "lead-1").Take(&lead).Error)
	assert.Equal(t, "2345678901", lead.ContactPhone)

	var src domain.Source
	require.NoError(t, conn.Where("id = ?", lead.SourceID).Take(&src).Error)
	assert.Equal(t, "pro_referral", src.Code)
}

func TestSyncCallsUsesScraperWindow(t *testing.T) {
	scraper := &fakeScraper{res: elocal.SyncResult{
		Rows:    5,
		Parsed:  4,
		Skipped: map[string]int{elocal.SkipMissingDate: 1},
		Write:   domain.Result{Saved: 4},
	}}
	svc, _ := setupService(t, &fakeSource{}, scraper)

	start, end := svc.CallWindow()
	report, err := svc.SyncCalls(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), scraper.end)
	assert.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), scraper.start)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 4, report.Saved)
	assert.Equal(t, 1, report.Skipped)
}

func TestSyncCallsPropagatesAuthenticationFailure(t *testing.T) {
	svc, _ := setupService(t, &fakeSource{}, &fakeScraper{err: domain.ErrAuthentication})

	start, end := svc.CallWindow()
	_, err := svc.SyncCalls(context.Background(), start, end)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestWindowHelpers(t *testing.T) {
	now := time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 12, 3, 0, 0, 0, 0, time.UTC), WindowStart(now, 30))
	assert.Equal(t, time.Date(2023, 12, 26, 0, 0, 0, 0, time.UTC), WindowStart(now, 0).AddDate(0, 0, 23))

	start, end := CallWindow(now, 7)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2023, 12, 26, 0, 0, 0, 0, time.UTC), start)
}
