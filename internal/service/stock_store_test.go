package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingStockReadsZero(t *testing.T) {
	env := newTestEnv(t, newMemRepo())

	n, err := env.stocks.Get(context.Background(), "P404")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetUnparsableStockReadsZero(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	require.NoError(t, env.mr.Set("stock:P1", "lots"))

	n, err := env.stocks.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetReportsUnreachableStore(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	env.mr.Close()

	_, err := env.stocks.Get(context.Background(), "P1")
	assert.Error(t, err)
}

func TestSetRejectsNegativeQuantity(t *testing.T) {
	env := newTestEnv(t, newMemRepo())

	assert.ErrorIs(t, env.stocks.Set(context.Background(), "P1", -1), ErrInvalidQuantity)
	assert.False(t, env.mr.Exists("stock:P1"))
}

func TestNonPositiveDeltaRejected(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()

	_, err := env.stocks.Increase(ctx, "P1", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = env.stocks.Decrease(ctx, "P1", -3)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestMutationsRefreshTTL(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()

	require.NoError(t, env.stocks.Set(ctx, "P1", 10))
	assert.Equal(t, DefaultStockTTL, env.mr.TTL("stock:P1"))

	env.mr.FastForward(30 * time.Minute)
	_, err := env.stocks.Increase(ctx, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultStockTTL, env.mr.TTL("stock:P1"))

	env.mr.FastForward(30 * time.Minute)
	_, ok, err := env.stocks.Decrease(ctx, "P1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultStockTTL, env.mr.TTL("stock:P1"))
}

func TestExpiredStockReadsZero(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()

	require.NoError(t, env.stocks.Set(ctx, "P1", 10))
	env.mr.FastForward(DefaultStockTTL + time.Second)

	assert.Equal(t, int64(0), env.fast(t, "P1"))
}

func TestDecreaseCompensatesWhenInsufficient(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()
	require.NoError(t, env.stocks.Set(ctx, "P1", 3))

	remaining, ok, err := env.stocks.Decrease(ctx, "P1", 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), remaining)
	assert.Equal(t, int64(3), env.fast(t, "P1"))
}

func TestConcurrentMutationsNeverLeaveNegative(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()
	require.NoError(t, env.stocks.Set(ctx, "P1", 20))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var decreased, increased int64

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_, err := env.stocks.Increase(ctx, "P1", 2)
				if assert.NoError(t, err) {
					mu.Lock()
					increased += 2
					mu.Unlock()
				}
				return
			}
			_, ok, err := env.stocks.Decrease(ctx, "P1", 3)
			if assert.NoError(t, err) && ok {
				mu.Lock()
				decreased += 3
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	final := env.fast(t, "P1")
	assert.GreaterOrEqual(t, final, int64(0))
	assert.Equal(t, 20+increased-decreased, final)
}

func TestBatchGetTreatsMissingAsZero(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()
	require.NoError(t, env.stocks.Set(ctx, "P1", 4))
	require.NoError(t, env.stocks.Set(ctx, "P3", 9))

	got, err := env.stocks.BatchGet(ctx, []string{"P1", "P2", "P3"})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 0, 9}, got)

	empty, err := env.stocks.BatchGet(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSeckillNamespaceIsIndependent(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()

	require.NoError(t, env.stocks.Set(ctx, "P1", 10))
	require.NoError(t, env.stocks.SetSeckill(ctx, "C1", "P1", 2))

	_, ok, err := env.stocks.DecreaseSeckill(ctx, "C1", "P1", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	seckill, err := env.stocks.GetSeckill(ctx, "C1", "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seckill)
	assert.Equal(t, int64(10), env.fast(t, "P1"))
	assert.True(t, env.mr.Exists("seckill_stock:C1_P1"))
}

func TestInitIfAbsentKeepsExistingValue(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()

	ok, err := env.stocks.InitIfAbsent(ctx, "P1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.stocks.InitIfAbsent(ctx, "P1", 50)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(5), env.fast(t, "P1"))
}

func TestDeleteAndExists(t *testing.T) {
	env := newTestEnv(t, newMemRepo())
	ctx := context.Background()
	require.NoError(t, env.stocks.Set(ctx, "P1", 5))

	exists, err := env.stocks.Exists(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, env.stocks.Delete(ctx, "P1"))

	exists, err = env.stocks.Exists(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int64(0), env.fast(t, "P1"))
}
