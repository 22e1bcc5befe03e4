package distlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyPrefix = "crmjobs:scheduler:"

var ErrNotConfigured = errors.New("lock client not configured")

// Locker is a single-key redis mutex with owner tokens. A nil *Locker is valid and
// means locking is disabled.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// AcquireGroup guards one run of a job group. When locking is disabled it always
// succeeds; otherwise ok is false while another run holds the group.
func (l *Locker) AcquireGroup(ctx context.Context, group string, ttl time.Duration) (release func(), ok bool, err error) {
	if !l.Enabled() {
		return func() {}, true, nil
	}
	key := GroupKey(group)
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}, true, nil
}

func GroupKey(group string) string {
	return keyPrefix + group
}
