package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releases only while the caller still owns the lease
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockKeyPrefix = "abcmetrics:lock:"

var (
	ErrLockHeld        = errors.New("lock_held")
	ErrLockUnavailable = errors.New("lock_unavailable")
)

// Locker hands out job leases in redis so two replicas never sync or
// re-aggregate the same thing at once.
type Locker struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		now:    time.Now,
	}
}

// Lease is an acquired job lock. It expires on its own after the job timeout.
type Lease struct {
	Job       string
	Key       string
	Token     string
	ExpiresAt time.Time

	locker *Locker
}

// JobKey namespaces a scheduler job name.
func JobKey(job string) string {
	return lockKeyPrefix + job
}

// AcquireJob leases job for ttl. ErrLockHeld means another replica runs it;
// ErrLockUnavailable wraps configuration and redis failures.
func (l *Locker) AcquireJob(ctx context.Context, job string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("%w: redis not configured", ErrLockUnavailable)
	}
	if job == "" || ttl <= 0 {
		return nil, fmt.Errorf("%w: job and ttl are required", ErrLockUnavailable)
	}

	key := JobKey(job)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{
		Job:       job,
		Key:       key,
		Token:     token,
		ExpiresAt: l.now().Add(ttl),
		locker:    l,
	}, nil
}

// Release drops the lease if it is still ours. Safe on a nil lease.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil || ls.locker == nil || ls.locker.client == nil {
		return nil
	}
	return ls.locker.script.Run(ctx, ls.locker.client, []string{ls.Key}, ls.Token).Err()
}
