package writer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/normalize"
	"github.com/smallbiznis/abcmetrics/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupWriter(t *testing.T) (*Writer, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(domain.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(Params{DB: conn, Log: zap.NewNop()}), conn
}

func jobRecord(id, source, status string) normalize.JobRecord {
	return normalize.JobRecord{
		Job: domain.Job{
			JobID:      id,
			OccurredAt: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
			Type:       "COD Service",
			Status:     status,
			Price:      decimal.NewFromInt(250),
		},
		Source: source,
	}
}

func TestUpsertJobsIsIdempotent(t *testing.T) {
	w, conn := setupWriter(t)
	ctx := context.Background()
	batch := []normalize.JobRecord{
		jobRecord("job-1", "Google", "Submitted"),
		jobRecord("job-2", "Rely", "Submitted"),
	}

	first, err := w.UpsertJobs(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Saved)

	second, err := w.UpsertJobs(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Saved)
	assert.Empty(t, second.Errors)

	var count int64
	require.NoError(t, conn.Model(&domain.Job{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	batch[0].Job.Status = "Done"
	_, err = w.UpsertJobs(ctx, batch[:1])
	require.NoError(t, err)

	var stored domain.Job
	require.NoError(t, conn.Where("job_id = ?", "job-1").Take(&stored).Error)
	assert.Equal(t, "Done", stored.Status)
	assert.True(t, stored.Price.Equal(decimal.NewFromInt(250)))
}

func TestUpsertDuplicateKeysInBatchKeepsOneRow(t *testing.T) {
	w, conn := setupWriter(t)

	res, err := w.UpsertJobs(context.Background(), []normalize.JobRecord{
		jobRecord("job-1", "Google", "Submitted"),
		jobRecord("job-1", "Google", "Scheduled"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)

	var jobs []domain.Job
	require.NoError(t, conn.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Scheduled", jobs[0].Status)
}

func TestResolveSourceNormalizesCode(t *testing.T) {
	w, conn := setupWriter(t)

	res, err := w.UpsertJobs(context.Background(), []normalize.JobRecord{
		jobRecord("job-1", "Pro Referral", "Submitted"),
		jobRecord("job-2", "pro-referral", "Submitted"),
		jobRecord("job-3", " PRO_REFERRAL ", "Submitted"),
		jobRecord("job-4", "", "Submitted"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Saved)

	var sources []domain.Source
	require.NoError(t, conn.Order("code").Find(&sources).Error)
	require.Len(t, sources, 2)
	assert.Equal(t, "pro_referral", sources[0].Code)
	assert.Equal(t, "Pro Referral", sources[0].Name)
	assert.Equal(t, normalize.SourceUnknown, sources[1].Code)

	var distinct int64
	require.NoError(t, conn.Model(&domain.Job{}).
		Where("job_id IN ?", []string{"job-1", "job-2", "job-3"}).
		Distinct("source_id").Count(&distinct).Error)
	assert.EqualValues(t, 1, distinct)

	id, err := w.ResolveSource(context.Background(), conn, "PRO referral")
	require.NoError(t, err)
	assert.Equal(t, sources[0].ID, id)
}

func TestResolveSourceReusesExistingDimensionRow(t *testing.T) {
	w, conn := setupWriter(t)
	ctx := context.Background()
	require.NoError(t, conn.Create(&domain.Source{ID: 42, Code: "google", Name: "Google Ads"}).Error)

	res, err := w.UpsertJobs(ctx, []normalize.JobRecord{jobRecord("job-1", "GOOGLE", "Submitted")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	var job domain.Job
	require.NoError(t, conn.Where("job_id = ?", "job-1").Take(&job).Error)
	assert.Equal(t, int64(42), job.SourceID)

	var src domain.Source
	require.NoError(t, conn.Where("code = ?", "google").Take(&src).Error)
	assert.Equal(t, normalize.SourceName("google"), src.Name)
}

func TestUpsertPaymentsPartialFailure(t *testing.T) {
	w, conn := setupWriter(t)
	require.NoError(t, conn.Exec(`CREATE TRIGGER reject_payment BEFORE INSERT ON fact_payments
		WHEN NEW.payment_id = 'pay-5'
		BEGIN SELECT RAISE(ABORT, 'payment rejected'); END`).Error)

	payments := make([]domain.Payment, 0, 10)
	for i := 1; i <= 10; i++ {
		payments = append(payments, domain.Payment{
			PaymentID: fmt.Sprintf("pay-%d", i),
			JobID:     "job-1",
			PaidAt:    time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
			Amount:    decimal.NewFromInt(int64(i * 10)),
		})
	}

	res, err := w.UpsertPayments(context.Background(), payments)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Saved)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "pay-5", res.Errors[0].Key)

	var count int64
	require.NoError(t, conn.Model(&domain.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 9, count)
}

func TestUpsertPaymentsSkipsRecordsWithoutJob(t *testing.T) {
	w, conn := setupWriter(t)

	res, err := w.UpsertPayments(context.Background(), []domain.Payment{
		{PaymentID: "pay-1", JobID: "job-1", PaidAt: time.Now().UTC(), Amount: decimal.NewFromInt(10)},
		{PaymentID: "pay-2", PaidAt: time.Now().UTC(), Amount: decimal.NewFromInt(10)},
		{JobID: "job-1", PaidAt: time.Now().UTC(), Amount: decimal.NewFromInt(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Errors)

	var count int64
	require.NoError(t, conn.Model(&domain.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertCallsRollsBackOnlyTheBadRow(t *testing.T) {
	w, conn := setupWriter(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	res, err := w.UpsertCalls(context.Background(), []domain.Call{
		{CallID: "c-1", Date: day, Duration: 30},
		{CallID: "c-2", Date: day, Duration: -1},
		{CallID: "c-3", Date: day, Duration: 60, Source: "google"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "c-2", res.Errors[0].Key)

	var calls []domain.Call
	require.NoError(t, conn.Order("call_id").Find(&calls).Error)
	require.Len(t, calls, 2)
	assert.Equal(t, normalize.SourceElocals, calls[0].Source)
	assert.Equal(t, "google", calls[1].Source)
}

func TestUpsertAdSpendOverwritesByDateAndCampaign(t *testing.T) {
	w, conn := setupWriter(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC)

	_, err := w.UpsertAdSpend(ctx, []domain.AdSpend{{Date: day, Campaign: "brand", Amount: decimal.NewFromInt(40)}})
	require.NoError(t, err)
	_, err = w.UpsertAdSpend(ctx, []domain.AdSpend{{Date: day.Add(time.Hour), Campaign: "brand", Amount: decimal.NewFromInt(55)}})
	require.NoError(t, err)

	var rows []domain.AdSpend
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(55)))
}

func TestUpsertEmptyBatch(t *testing.T) {
	w, _ := setupWriter(t)
	res, err := w.UpsertLeads(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Result{}, res)
}
