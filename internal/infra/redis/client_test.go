package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cloudlink/internal/infra/kv"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestIncrWithExpiry_SetsTTLOnFirstIncrementOnly(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	n, err := c.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(30 * time.Minute)

	n, err = c.IncrWithExpiry(ctx, "counter", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The second increment must not push the window out.
	ttl, err := c.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Minute)

	mr.FastForward(31 * time.Minute)

	got, err := c.Counter(ctx, "counter")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestGet_Missing(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, kv.ErrMissing)
}

func TestSetNX_AndCompareAndDelete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := c.CompareAndDelete(ctx, "lock", "token-b")
	require.NoError(t, err)
	assert.False(t, deleted, "foreign token must not release the lock")

	deleted, err = c.CompareAndDelete(ctx, "lock", "token-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = c.Get(ctx, "lock")
	assert.ErrorIs(t, err, kv.ErrMissing)
}

func TestPushCapped_DropsOldest(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.PushCapped(ctx, "ring", v, 3, time.Hour))
	}

	vals, err := c.Recent(ctx, "ring", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, vals)

	vals, err = c.Recent(ctx, "ring", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, vals)
}

func TestTTL_MissingAndPersistent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ttl, err := c.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	require.NoError(t, c.Set(ctx, "persistent", "v", 0))
	ttl, err = c.TTL(ctx, "persistent")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestIncrExtend_PushesExpiryOut(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.IncrExtend(ctx, "streak", time.Hour)
	require.NoError(t, err)

	mr.FastForward(45 * time.Minute)

	n, err := c.IncrExtend(ctx, "streak", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := c.TTL(ctx, "streak")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(45 * time.Minute)

	got, err := c.Counter(ctx, "streak")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}
