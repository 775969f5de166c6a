package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T, cfg RedisLockerConfig) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, cfg, nil), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := setupRedisLocker(t, RedisLockerConfig{KeyPrefix: "lock:"})

	release, err := locker.Acquire(context.Background(), "appointments:D:2024-01-10")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:appointments:D:2024-01-10"))

	release()
	assert.False(t, mr.Exists("lock:appointments:D:2024-01-10"))
}

func TestRedisLockerTimesOutWhenHeld(t *testing.T) {
	locker, _ := setupRedisLocker(t, RedisLockerConfig{Wait: 50 * time.Millisecond, Retry: 5 * time.Millisecond})

	release, err := locker.Acquire(context.Background(), "k1")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), "k2", "k1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	// k2 must have been rolled back when k1 could not be taken.
	releaseK2, err := locker.Acquire(context.Background(), "k2")
	require.NoError(t, err)
	releaseK2()
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := setupRedisLocker(t, RedisLockerConfig{KeyPrefix: "lock:"})

	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	require.NoError(t, mr.Set("lock:k", "someone-else"))
	release()

	got, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerExpiresAfterTTL(t *testing.T) {
	locker, mr := setupRedisLocker(t, RedisLockerConfig{TTL: time.Second, Wait: 20 * time.Millisecond, Retry: 5 * time.Millisecond})

	_, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
}
