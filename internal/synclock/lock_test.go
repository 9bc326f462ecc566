package synclock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()
	key := uuid.NewString()

	lease, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, key+"-other", time.Minute)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemory(t *testing.T) {
	exerciseLocker(t, NewMemory())
}

func TestMemory_ExpiredLeaseCannotReleaseNewHolder(t *testing.T) {
	m := NewMemory()
	now := time.Date(2024, 12, 19, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err, "an expired lock can be taken over")

	require.NoError(t, stale.Release(ctx))
	_, err = m.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked, "the stale holder must not release the new lease")

	require.NoError(t, fresh.Release(ctx))
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("VITALSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VITALSYNC_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	exerciseLocker(t, NewRedis(client))
}
