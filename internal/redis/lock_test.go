package redisclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/slot-booking-engine/internal/redis"
	"github.com/hackgods/slot-booking-engine/internal/testutil"
)

func TestLocker_WithLock(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	ctx := context.Background()
	key := "lock:test:" + uuid.NewString()

	locker := redisclient.NewLocker(rdb, 5*time.Second)
	other := redisclient.NewLocker(rdb, 5*time.Second)

	ran := false
	err := locker.WithLock(ctx, key, func(ctx context.Context) error {
		ran = true

		held, err := rdb.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), held)

		err = other.WithLock(ctx, key, func(context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)

		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	held, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, held, "lock is released after fn returns")
}

func TestLocker_ReleasesOnError(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	ctx := context.Background()
	key := "lock:test:" + uuid.NewString()
	boom := errors.New("boom")

	err := redisclient.NewLocker(rdb, 5*time.Second).WithLock(ctx, key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = redisclient.NewLocker(rdb, 5*time.Second).WithLock(ctx, key, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocker_DoesNotReleaseForeignLease(t *testing.T) {
	rdb := testutil.NewTestRedis(t)
	ctx := context.Background()
	key := "lock:test:" + uuid.NewString()

	err := redisclient.NewLocker(rdb, 5*time.Second).WithLock(ctx, key, func(ctx context.Context) error {
		// lease lost and taken by someone else mid-run
		return rdb.Set(ctx, key, "someone-else", 5*time.Second).Err()
	})
	require.NoError(t, err)

	val, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
	rdb.Del(ctx, key)
}
