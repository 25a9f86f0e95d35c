package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds our owner token,
// so an expired lock re-acquired by another request is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements per-ticket mutual exclusion with SET NX + TTL.
type Locker struct {
	Client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{Client: client}
}

func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, owner, ttl).Result()
}

func (l *Locker) Release(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, l.Client, []string{key}, owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Holder returns the current owner token of key, or "" when unlocked.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
