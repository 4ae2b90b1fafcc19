package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestLocalLocker_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	release, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)

	_, err = locker.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err, "keys are independent")

	require.NoError(t, release(ctx))
	_, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
}

func TestLocalLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewLocalLocker()
	locker.now = func() time.Time { return now }

	staleRelease, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	// Старый владелец не снимает чужую блокировку.
	require.NoError(t, staleRelease(ctx))
	_, err = locker.TryLock(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
}

func TestRedisLocker_UnreachableServer(t *testing.T) {
	_, err := OpenRedis(context.Background(), "127.0.0.1:1", "")
	require.Error(t, err)
}

func TestRedisLocker_Integration(t *testing.T) {
	addr := os.Getenv("MARKETPLACE_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("MARKETPLACE_REDIS_TEST_ADDR is not set")
	}

	ctx := context.Background()
	client, err := OpenRedis(ctx, addr, "")
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, "marketplace:test:")
	key := "sweep-" + time.Now().Format("150405.000000000")

	release, err := locker.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, key, 5*time.Second)
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, release(ctx))
	second, err := locker.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, second(ctx))
	require.NoError(t, locker.Ping(ctx))
}
