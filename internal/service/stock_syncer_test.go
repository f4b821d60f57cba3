package service

import (
	"context"
	"testing"
	"time"

	"stock-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncProductPropagatesFastValue(t *testing.T) {
	env := newTestEnv(t, newMemRepo(models.Product{ID: "P1", TotalStock: 10}), withPool())
	require.NoError(t, env.stocks.Set(context.Background(), "P1", 4))

	task := env.syncer.SyncProduct("P1")
	require.NoError(t, task.Wait(waitCtx(t)))

	assert.Equal(t, int64(4), env.repo.stock("P1"))
}

func TestSyncProductFailureIsObservable(t *testing.T) {
	repo := newMemRepo(models.Product{ID: "P1", TotalStock: 10})
	repo.setFailUpdate("P1")
	env := newTestEnv(t, repo, withPool())

	task := env.syncer.SyncProduct("P1")
	assert.ErrorIs(t, task.Wait(waitCtx(t)), errInjected)
	assert.ErrorIs(t, task.Err(), errInjected)
	assert.Equal(t, int64(10), repo.stock("P1"))
}

func TestSweepSkipsFailingProducts(t *testing.T) {
	repo := newMemRepo(
		models.Product{ID: "P1", TotalStock: 10},
		models.Product{ID: "P2", TotalStock: 10},
		models.Product{ID: "P3", TotalStock: 7},
	)
	repo.setFailUpdate("P2")
	env := newTestEnv(t, repo)
	ctx := context.Background()

	require.NoError(t, env.stocks.Set(ctx, "P1", 1))
	require.NoError(t, env.stocks.Set(ctx, "P2", 2))
	require.NoError(t, env.stocks.Set(ctx, "P3", 7))

	result, err := env.syncer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SweepResult{Checked: 2, Updated: 1, Failed: 1}, result)

	assert.Equal(t, int64(1), repo.stock("P1"))
	assert.Equal(t, int64(10), repo.stock("P2"))
	assert.Equal(t, int64(7), repo.stock("P3"))

	status := env.syncer.Status()
	require.NotNil(t, status.LastSweep)
	assert.Equal(t, result, *status.LastSweep)
	assert.False(t, status.SweepsRunning)
}

func TestSweepListFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failList = true
	env := newTestEnv(t, repo)

	_, err := env.syncer.Sweep(context.Background())
	assert.ErrorIs(t, err, errInjected)
	assert.NotEmpty(t, env.syncer.Status().LastSweepErr)
}

func TestStartRunsSweepsUntilCancelled(t *testing.T) {
	repo := newMemRepo(models.Product{ID: "P1", TotalStock: 10})
	env := newTestEnv(t, repo)
	require.NoError(t, env.stocks.Set(context.Background(), "P1", 3))

	syncer := NewStockSyncer(env.stocks, repo, env.pool, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Start(ctx) }()

	require.Eventually(t, func() bool { return repo.stock("P1") == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sync loop did not stop")
	}
}
