// Package lock serialises mutations of a single bill across API replicas with
// a Redis lock keyed by bill id.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken within MaxWait.
var ErrNotAcquired = errors.New("lock: not acquired")

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
)

// release deletes the key only while it still holds our token, so a holder
// whose TTL lapsed cannot free a lock someone else has since taken.
var release = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker takes per-key locks with SET NX PX and polls until acquired.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds acquisition time; zero waits until ctx is done.
	MaxWait time.Duration
	// OnAcquire, when set, receives the time spent waiting for the lock.
	OnAcquire func(waited time.Duration)
}

// BillKey returns the lock key guarding the bill with the given id.
func BillKey(billID string) string {
	return "lock:bill:" + strings.TrimSpace(billID)
}

// WithLock runs fn while holding key. fn is not called when the lock cannot be
// taken; the lock is released whatever fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	switch {
	case l.R == nil:
		return errors.New("lock: redis client not configured")
	case fn == nil:
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		// The caller's context may already be cancelled; release regardless.
		_ = release.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = defaultRetry
	}
	start := time.Now()
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.MaxWait, fmt.Errorf("%w: %s", ErrNotAcquired, key))
		defer cancel()
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil && ctx.Err() != nil:
			return context.Cause(ctx)
		case err != nil:
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		case ok:
			if l.OnAcquire != nil {
				l.OnAcquire(time.Since(start))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}
