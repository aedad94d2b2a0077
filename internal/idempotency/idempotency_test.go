package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/loyalty-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGuard(t *testing.T) (*miniredis.Miniredis, *Guard) {
	mr := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.LockTTL = 5 * time.Second
	cfg.MaxRetries = 2
	return mr, NewGuard(redis.Wrap("test:", client), cfg)
}

func TestGuard_Acquire(t *testing.T) {
	mr, g := setupGuard(t)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "redeem:k1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:idem:lock:redeem:k1"))

	_, err = g.Acquire(ctx, "redeem:k1")
	assert.ErrorIs(t, err, ErrLockHeld)

	release()
	assert.False(t, mr.Exists("test:idem:lock:redeem:k1"))

	release2, err := g.Acquire(ctx, "redeem:k1")
	require.NoError(t, err)
	release2()
}

func TestGuard_ReleaseKeepsForeignLock(t *testing.T) {
	mr, g := setupGuard(t)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "k")
	require.NoError(t, err)

	// the lock expires and someone else takes it
	mr.FastForward(10 * time.Second)
	_, err = g.Acquire(ctx, "k")
	require.NoError(t, err)

	release()
	assert.True(t, mr.Exists("test:idem:lock:k"), "stale holder must not release the new lock")
}

func TestGuard_AcquireRedisDown(t *testing.T) {
	mr, g := setupGuard(t)
	mr.Close()

	_, err := g.Acquire(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockHeld))
}

func TestGuard_BeginSuccess(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	a, err := g.Begin(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, a.IsRetry())

	_, err = g.Begin(ctx, "evt-1")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, g.MarkSuccess(ctx, a))

	done, err := g.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)

	_, err = g.Begin(ctx, "evt-1")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestGuard_BeginRetriesUntilLimit(t *testing.T) {
	_, g := setupGuard(t)
	ctx := context.Background()

	a, err := g.Begin(ctx, "evt-2")
	require.NoError(t, err)
	g.MarkFailure(ctx, a, errors.New("boom"))

	a, err = g.Begin(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, a.IsRetry())
	assert.Equal(t, 1, a.RetryCount)
	g.MarkFailure(ctx, a, errors.New("boom"))

	_, err = g.Begin(ctx, "evt-2")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	n, err := g.RetryCount(ctx, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
