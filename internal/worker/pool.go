package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stock-service/internal/util"

	"go.uber.org/zap"
)

// ErrPoolClosed is the result of tasks submitted to, or still queued in, a
// stopped pool.
var ErrPoolClosed = errors.New("worker pool closed")

// TaskFunc is the unit of work run by the pool.
type TaskFunc func(ctx context.Context) error

// Task is a handle on submitted work. Callers may ignore it (fire-and-forget)
// or wait on Done to observe completion.
type Task struct {
	Name string

	fn   TaskFunc
	done chan struct{}
	err  error
}

func newTask(name string, fn TaskFunc) *Task {
	return &Task{Name: name, fn: fn, done: make(chan struct{})}
}

// Done is closed once the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is nil until the task is done.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int    `json:"workers"`
	Backlog   int    `json:"backlog"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Pool runs tasks on a fixed number of workers. Submissions beyond what the
// workers can take are kept in an unbounded backlog; Submit never blocks.
type Pool struct {
	size    int
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	backlog []*Task
	closed  bool
	notify  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool creates a pool of size workers; each task runs under timeout.
func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Pool{
		size:    size,
		timeout: timeout,
		logger:  util.GetLogger(),
		notify:  make(chan struct{}, 1),
	}
}

// Start launches the workers. Tasks submitted earlier are picked up now.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.signal()
	p.logger.Info("Sync worker pool started", zap.Int("workers", p.size))
}

// Stop halts the workers after their current task and fails whatever is
// still queued with ErrPoolClosed.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	pending := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	for _, t := range pending {
		p.failed.Add(1)
		t.finish(ErrPoolClosed)
	}
	util.SyncPoolBacklog.Set(0)
	p.logger.Info("Sync worker pool stopped", zap.Int("dropped", len(pending)))
}

// Submit queues fn and returns its handle.
func (p *Pool) Submit(name string, fn TaskFunc) *Task {
	t := newTask(name, fn)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.failed.Add(1)
		t.finish(ErrPoolClosed)
		return t
	}
	p.backlog = append(p.backlog, t)
	backlog := len(p.backlog)
	p.mu.Unlock()

	p.submitted.Add(1)
	util.SyncPoolBacklog.Set(float64(backlog))
	p.signal()
	return t
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	backlog := len(p.backlog)
	p.mu.Unlock()

	return Stats{
		Workers:   p.size,
		Backlog:   backlog,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) next() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.backlog) == 0 {
		return nil
	}
	t := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	if len(p.backlog) > 0 {
		p.signal()
	}
	util.SyncPoolBacklog.Set(float64(len(p.backlog)))
	return t
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		t := p.next()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
				continue
			}
		}

		p.run(ctx, t)
	}
}

func (p *Pool) run(parent context.Context, t *Task) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	err := p.safeCall(ctx, t)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Sync task failed", zap.String("task", t.Name), zap.Error(err))
	} else {
		p.completed.Add(1)
	}
	t.finish(err)
}

func (p *Pool) safeCall(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	return t.fn(ctx)
}
