package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roadmate/roadmate/internal/schema"
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis locker namespacing its keys under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "roadmate:lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Acquire sets key with NX and a ttl expiry. It returns schema.ErrLockHeld
// when another holder owns the key.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	full := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrLockHeld, key)
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{full}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			slog.Warn("lock expired before release", "key", key)
		}
		return nil
	}, nil
}
