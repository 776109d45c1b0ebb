package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
)

func exerciseLocker(t *testing.T, l schema.Locker, key string) {
	t.Helper()
	ctx := context.Background()

	release, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, schema.ErrLockHeld)

	other, err := l.Acquire(ctx, key+"-other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "compact:s1")
}

func TestLocalStaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	require.NoError(t, first(ctx))

	second, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	require.NoError(t, first(ctx))

	_, err = l.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, schema.ErrLockHeld)
	require.NoError(t, second(ctx))
}

// TestRedis needs a server at ROADMATE_TEST_REDIS, e.g. localhost:6379.
func TestRedis(t *testing.T) {
	addr := os.Getenv("ROADMATE_TEST_REDIS")
	if addr == "" {
		t.Skip("ROADMATE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedis(client, "roadmate-test:"+uuid.NewString()+":")
	exerciseLocker(t, l, "compact:s1")

	ctx := context.Background()
	release, err := l.Acquire(ctx, "short", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	next, err := l.Acquire(ctx, "short", time.Minute)
	require.NoError(t, err, "expired lock can be re-acquired")
	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "short", time.Minute)
	assert.ErrorIs(t, err, schema.ErrLockHeld, "stale release leaves the new holder")
	require.NoError(t, next(ctx))
}
