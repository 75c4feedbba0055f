package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "authentication",
			err:  fmt.Errorf("login: %w", domain.ErrAuthentication),
			want: SchedulerJobReasonAuthentication,
		},
		{
			name: "session_expired",
			err:  domain.ErrSessionExpired,
			want: SchedulerJobReasonAuthentication,
		},
		{
			name: "source_unavailable",
			err:  fmt.Errorf("jobs: %w", domain.ErrSourceUnavailable),
			want: SchedulerJobReasonSourceUnavailable,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if IsSchedulerErrorRetryable(domain.ErrAuthentication) {
		t.Fatalf("authentication failures need new credentials")
	}
	if !IsSchedulerErrorRetryable(domain.ErrSourceUnavailable) {
		t.Fatalf("expected source outage to be retryable")
	}
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure to be retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "abcmetrics",
		Environment: "test",
	})

	metrics.AddBatchProcessed("sync_jobs", "jobs", 3)
	metrics.AddBatchProcessed("sync_jobs", "jobs", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("sync_jobs", "jobs"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestMarkSuccessStoresUnixTime(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{Environment: "test"})

	at := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	metrics.MarkSuccess("sync_calls", at)

	got := testutil.ToFloat64(metrics.lastSuccess.WithLabelValues("sync_calls"))
	if got != float64(at.Unix()) {
		t.Fatalf("expected %v, got %v", float64(at.Unix()), got)
	}
}
