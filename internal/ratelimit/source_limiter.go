package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/config"
	"go.uber.org/zap"
)

const workizBucketKey = "abcmetrics:bucket:workiz"

type allower interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

// SourceLimiter paces outbound requests for one API credential across replicas.
// A nil *SourceLimiter never blocks.
type SourceLimiter struct {
	bucket allower
	key    string
	rate   float64
	burst  int
	log    *zap.Logger
}

// NewWorkizLimiter returns nil unless redis is configured and a positive rate is set.
func NewWorkizLimiter(bucket *TokenBucket, cfg config.Config, log *zap.Logger) *SourceLimiter {
	if bucket == nil || cfg.Workiz.RatePerSecond <= 0 {
		return nil
	}
	burst := cfg.Workiz.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return newSourceLimiter(bucket, workizBucketKey, cfg.Workiz.RatePerSecond, burst, log.Named("ratelimit"))
}

func newSourceLimiter(bucket allower, key string, rate float64, burst int, log *zap.Logger) *SourceLimiter {
	return &SourceLimiter{bucket: bucket, key: key, rate: rate, burst: burst, log: log}
}

// Wait blocks until a token is granted or ctx ends. Redis errors fail open.
func (l *SourceLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		res, err := l.bucket.Allow(ctx, l.key, l.rate, l.burst)
		if err != nil {
			l.log.Warn("rate limiter unavailable, continuing", zap.String("key", l.key), zap.Error(err))
			return nil
		}
		if res.Allowed {
			return nil
		}
		delay := res.RetryAfter
		if delay <= 0 {
			delay = time.Duration(float64(time.Second) / l.rate)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
