package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetInt64Missing(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetInt64(context.Background(), "absent")
	assert.True(t, IsNil(err))
}

func TestIncrByWithTTLRefreshesExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	n, err := c.IncrByWithTTL(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	n, err = c.IncrByWithTTL(ctx, "k", 2, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, time.Hour, mr.TTL("k"))
}

func TestSetIfAbsent(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "lock", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetIfAbsent(ctx, "lock", "b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := mr.Get("lock")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestCompareAndDelete(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("lock", "token-1"))

	ok, err := c.CompareAndDelete(ctx, "lock", "token-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("lock"))

	ok, err = c.CompareAndDelete(ctx, "lock", "token-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("lock"))
}

func TestMGetInt64(t *testing.T) {
	c, mr := newTestClient(t)

	require.NoError(t, mr.Set("a", "3"))
	require.NoError(t, mr.Set("c", "junk"))

	vals, found, err := c.MGetInt64(context.Background(), "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 0, 0}, vals)
	assert.Equal(t, []bool{true, false, false}, found)
}
