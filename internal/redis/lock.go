package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// ErrLockHeld is returned by TryLock when the lock could not be taken
var ErrLockHeld = errors.New("lock held by another instance")

// TryLock takes the named distributed lock without waiting. The lock expires
// after ttl unless released earlier with the returned unlock function.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (func() error, error) {
	mutex := c.locks.NewMutex(c.config.LockPrefix+name, redsync.WithExpiry(ttl))

	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, name, err)
	}

	return func() error {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}, nil
}

func newLocker(client *Client) *redsync.Redsync {
	return redsync.New(goredis.NewPool(client.rdb))
}
