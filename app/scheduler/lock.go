// Package scheduler runs the recurring hold-expiry sweep and maturity pass
package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/plotshare/utils"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLock keeps overlapping replicas from running the same job at once.
// A nil client grants every acquisition.
type RunLock struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRunLock(rc *redis.Client, prefix string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RunLock{rc: rc, prefix: prefix, ttl: ttl}
}

// Acquire tries to take the named lock. ok is false when another holder owns it.
func (l *RunLock) Acquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	if l == nil || l.rc == nil {
		return func() {}, true, nil
	}

	key := l.prefix + "scheduler:" + name
	token := utils.NewULID()
	ok, err = l.rc.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// The run context may already be cancelled on shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rc, []string{key}, token).Err()
	}, true, nil
}
