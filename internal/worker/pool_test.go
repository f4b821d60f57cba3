package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(3, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	var ran atomic.Int64
	tasks := make([]*Task, 0, 50)
	for i := 0; i < 50; i++ {
		tasks = append(tasks, p.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	for _, task := range tasks {
		require.NoError(t, task.Wait(waitCtx(t)))
	}
	assert.Equal(t, int64(50), ran.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(50), stats.Submitted)
	assert.Equal(t, uint64(50), stats.Completed)
	assert.Equal(t, 0, stats.Backlog)
}

func TestPoolSubmitDoesNotBlockWhenWorkersBusy(t *testing.T) {
	p := NewPool(1, 5*time.Second)
	p.Start(context.Background())
	defer p.Stop()

	release := make(chan struct{})
	blocker := p.Submit("blocker", func(ctx context.Context) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Submit("queued", func(ctx context.Context) error { return nil })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked while the only worker was busy")
	}

	close(release)
	require.NoError(t, blocker.Wait(waitCtx(t)))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 4
	p := NewPool(size, 5*time.Second)
	p.Start(context.Background())
	defer p.Stop()

	var mu sync.Mutex
	current, peak := 0, 0

	tasks := make([]*Task, 0, 40)
	for i := 0; i < 40; i++ {
		tasks = append(tasks, p.Submit("busy", func(ctx context.Context) error {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			return nil
		}))
	}
	for _, task := range tasks {
		require.NoError(t, task.Wait(waitCtx(t)))
	}

	assert.LessOrEqual(t, peak, size)
}

func TestTaskReportsError(t *testing.T) {
	p := NewPool(1, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	boom := errors.New("boom")
	task := p.Submit("fail", func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, task.Wait(waitCtx(t)), boom)
	assert.ErrorIs(t, task.Err(), boom)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestTaskRecoversPanic(t *testing.T) {
	p := NewPool(1, time.Second)
	p.Start(context.Background())
	defer p.Stop()

	task := p.Submit("panic", func(ctx context.Context) error { panic("bad") })

	err := task.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestTaskErrNilUntilDone(t *testing.T) {
	p := NewPool(1, time.Second)

	task := p.Submit("pending", func(ctx context.Context) error { return errors.New("later") })
	assert.NoError(t, task.Err())

	select {
	case <-task.Done():
		t.Fatal("task finished before the pool started")
	default:
	}

	p.Start(context.Background())
	defer p.Stop()
	assert.Error(t, task.Wait(waitCtx(t)))
}

func TestStoppedPoolRejectsAndDrains(t *testing.T) {
	p := NewPool(1, time.Second)
	queued := p.Submit("never-started", func(ctx context.Context) error { return nil })

	p.Stop()

	assert.ErrorIs(t, queued.Wait(waitCtx(t)), ErrPoolClosed)

	late := p.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, late.Wait(waitCtx(t)), ErrPoolClosed)
}

func TestTaskTimeout(t *testing.T) {
	p := NewPool(1, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	task := p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, task.Wait(waitCtx(t)), context.DeadlineExceeded)
}
