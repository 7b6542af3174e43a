package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
)

// DefaultRedisKey is used when several hosts may start the upgrade against
// the same database.
const DefaultRedisKey = "openmrs:order-entry-upgrade:lock"

// releaseScript deletes the key only while it still belongs to the owner.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisClient is the subset of *redis.Client the locker needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker uses SET NX PX; the TTL frees the lock of a crashed run.
type RedisLocker struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

func NewRedisLocker(client RedisClient, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) Acquire(ctx context.Context, owner string) error {
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire redis lock %s: %w", l.key, err)
	}
	if ok {
		return nil
	}
	holder, err := l.client.Get(ctx, l.key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read redis lock %s: %w", l.key, err)
	}
	return errors.Wrapf(ErrLocked, "upgrade lock held by %q", holder)
}

func (l *RedisLocker) Release(ctx context.Context, owner string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release redis lock %s: %w", l.key, err)
	}
	return nil
}
