package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultSweepLimit bounds the product set covered by one sweep or audit.
const DefaultSweepLimit = 1000

// SnapshotRepository is the durable store of product stock snapshots.
type SnapshotRepository interface {
	FindByID(ctx context.Context, productID string) (*models.Product, error)
	UpdateStock(ctx context.Context, productID string, quantity int64) error
	Save(ctx context.Context, product *models.Product) error
	ListProducts(ctx context.Context, limit int) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
}

// SyncStatus is what the syncer knows about its own progress.
type SyncStatus struct {
	Pool          worker.Stats        `json:"pool"`
	Interval      time.Duration       `json:"interval_ns"`
	LastSweepAt   time.Time           `json:"last_sweep_at,omitempty"`
	LastSweep     *models.SweepResult `json:"last_sweep,omitempty"`
	LastSweepErr  string              `json:"last_sweep_error,omitempty"`
	SweepsRunning bool                `json:"sweep_running"`
}

// StockSyncer pushes fast store values into the durable store. It only
// reads the fast store; the durable value is always overwritten with
// whatever the fast store holds.
type StockSyncer struct {
	stocks   *StockStore
	repo     SnapshotRepository
	pool     *worker.Pool
	interval time.Duration
	limit    int
	logger   *zap.Logger

	mu       sync.Mutex
	lastAt   time.Time
	last     *models.SweepResult
	lastErr  error
	sweeping bool
}

func NewStockSyncer(stocks *StockStore, repo SnapshotRepository, pool *worker.Pool, interval time.Duration, limit int) *StockSyncer {
	if interval <= 0 {
		interval = time.Minute
	}
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	return &StockSyncer{
		stocks:   stocks,
		repo:     repo,
		pool:     pool,
		interval: interval,
		limit:    limit,
		logger:   util.GetLogger(),
	}
}

// SyncProduct queues propagation of one product's fast value. The caller
// may ignore the returned task; failures are logged and never retried.
func (s *StockSyncer) SyncProduct(productID string) *worker.Task {
	return s.submit("sync:"+productID, "event", productID)
}

func (s *StockSyncer) submit(name, trigger, productID string) *worker.Task {
	return s.pool.Submit(name, func(ctx context.Context) error {
		ctx, span := util.StartSpan(ctx, "StockSyncer.SyncProduct", attribute.String("product_id", productID))
		defer span.End()

		quantity, err := s.stocks.Get(ctx, productID)
		if err != nil {
			util.SpanError(span, err)
			util.SyncTasksTotal.WithLabelValues(trigger, "error").Inc()
			return fmt.Errorf("read fast stock %s: %w", productID, err)
		}
		if err := s.repo.UpdateStock(ctx, productID, quantity); err != nil {
			util.SpanError(span, err)
			util.SyncTasksTotal.WithLabelValues(trigger, "error").Inc()
			return fmt.Errorf("write durable stock %s: %w", productID, err)
		}

		util.SyncTasksTotal.WithLabelValues(trigger, "ok").Inc()
		s.logger.Debug("Synced stock to durable store",
			zap.String("product_id", productID), zap.Int64("stock", quantity))
		return nil
	})
}

// Sweep compares every known product and overwrites durable values that
// differ from the fast store. A failure on one product never stops the sweep.
func (s *StockSyncer) Sweep(ctx context.Context) (models.SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "StockSyncer.Sweep")
	defer span.End()

	start := time.Now()
	defer func() { util.SweepDuration.Observe(time.Since(start).Seconds()) }()

	s.setSweeping(true)
	defer s.setSweeping(false)

	var result models.SweepResult

	products, err := s.repo.ListProducts(ctx, s.limit)
	if err != nil {
		util.SpanError(span, err)
		s.recordSweep(result, err)
		return result, fmt.Errorf("list products: %w", err)
	}

	for _, p := range products {
		outcome, err := reconcile(ctx, s.stocks, s.repo, p)
		if err != nil {
			result.Failed++
			util.SyncTasksTotal.WithLabelValues("sweep", "error").Inc()
			s.logger.Error("Sweep failed for product", zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		result.Checked++
		if outcome.mismatched {
			result.Updated++
			util.SyncTasksTotal.WithLabelValues("sweep", "ok").Inc()
		}
	}

	s.recordSweep(result, nil)
	s.logger.Info("Stock sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// Start runs Sweep on a fixed delay until ctx is cancelled. The next sweep
// is scheduled only after the previous one has returned.
func (s *StockSyncer) Start(ctx context.Context) error {
	s.logger.Info("Stock sync loop started", zap.Duration("interval", s.interval))

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stock sync loop stopped")
			return nil
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Scheduled sweep failed", zap.Error(err))
			}
			timer.Reset(s.interval)
		}
	}
}

// Status reports pool counters and the outcome of the last sweep.
func (s *StockSyncer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SyncStatus{
		Pool:          s.pool.Stats(),
		Interval:      s.interval,
		LastSweepAt:   s.lastAt,
		SweepsRunning: s.sweeping,
	}
	if s.last != nil {
		last := *s.last
		status.LastSweep = &last
	}
	if s.lastErr != nil {
		status.LastSweepErr = s.lastErr.Error()
	}
	return status
}

func (s *StockSyncer) setSweeping(v bool) {
	s.mu.Lock()
	s.sweeping = v
	s.mu.Unlock()
}

func (s *StockSyncer) recordSweep(result models.SweepResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt = time.Now()
	s.last = &result
	s.lastErr = err
}

type reconcileOutcome struct {
	fast       int64
	durable    int64
	mismatched bool
}

// reconcile makes the durable snapshot of p equal to the fast value.
func reconcile(ctx context.Context, stocks *StockStore, repo SnapshotRepository, p models.Product) (reconcileOutcome, error) {
	fast, err := stocks.Get(ctx, p.ID)
	if err != nil {
		return reconcileOutcome{}, err
	}

	out := reconcileOutcome{fast: fast, durable: p.TotalStock}
	if fast == p.TotalStock {
		return out, nil
	}
	out.mismatched = true

	if err := repo.UpdateStock(ctx, p.ID, fast); err != nil {
		return out, fmt.Errorf("overwrite durable stock %s: %w", p.ID, err)
	}
	return out, nil
}
