package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stretchr/testify/require"
)

func newLock(t *testing.T) (*StartLock, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStartLock(rdb, 30*time.Second, zerolog.Nop()), server
}

func TestStartLockIsExclusive(t *testing.T) {
	lock, _ := newLock(t)
	ctx := context.Background()
	student := uuid.New()

	ok, release, err := lock.Acquire(ctx, student)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = lock.Acquire(ctx, student)
	require.NoError(t, err)
	require.False(t, ok)

	other, releaseOther, err := lock.Acquire(ctx, uuid.New())
	require.NoError(t, err)
	require.True(t, other)
	releaseOther()

	release()
	ok, _, err = lock.Acquire(ctx, student)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStartLockReleaseKeepsForeignToken(t *testing.T) {
	lock, server := newLock(t)
	ctx := context.Background()
	student := uuid.New()
	key := config.CacheKey.StudentStartLockKey(student)

	ok, release, err := lock.Acquire(ctx, student)
	require.NoError(t, err)
	require.True(t, ok)

	// The lock expired and someone else took it.
	server.FastForward(time.Minute)
	require.NoError(t, server.Set(key, "someone-else"))

	release()
	got, err := server.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestStartLockReportsRedisErrors(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer rdb.Close()
	lock := NewStartLock(rdb, time.Second, zerolog.Nop())
	server.Close()

	_, _, err = lock.Acquire(context.Background(), uuid.New())
	require.Error(t, err)
}
