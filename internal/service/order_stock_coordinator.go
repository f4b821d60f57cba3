package service

import (
	"context"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReserveResult is the outcome of reserving one line item.
type ReserveResult int

const (
	Reserved ReserveResult = iota
	Insufficient
	Contended
)

func (r ReserveResult) String() string {
	switch r {
	case Reserved:
		return "reserved"
	case Insufficient:
		return "insufficient_stock"
	case Contended:
		return "lock_contended"
	default:
		return "unknown"
	}
}

// CoordinatorConfig tunes the reservation protocol.
type CoordinatorConfig struct {
	LeaseTTL      time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// OrderStockCoordinator sequences stock across the line items of one order:
// soft reservation in the fast store at creation, hard deduction in the
// durable store at payment, and release back to the fast store on cancel.
type OrderStockCoordinator struct {
	stocks *StockStore
	lock   *ReservationLock
	repo   SnapshotRepository
	cfg    CoordinatorConfig
	logger *zap.Logger
}

func NewOrderStockCoordinator(stocks *StockStore, lock *ReservationLock, repo SnapshotRepository, cfg CoordinatorConfig) *OrderStockCoordinator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &OrderStockCoordinator{
		stocks: stocks,
		lock:   lock,
		repo:   repo,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// ReserveItem takes the product's lease, deducts quantity if enough stock is
// available and releases the lease again. Lease contention is retried up to
// RetryAttempts times; insufficient stock is never retried.
func (c *OrderStockCoordinator) ReserveItem(ctx context.Context, productID string, quantity int64) (ReserveResult, error) {
	if quantity <= 0 {
		return Insufficient, ErrInvalidQuantity
	}

	for attempt := 1; ; attempt++ {
		result, err := c.tryReserve(ctx, productID, quantity)
		if err != nil || result != Contended || attempt >= c.cfg.RetryAttempts {
			return result, err
		}

		select {
		case <-ctx.Done():
			return Contended, ctx.Err()
		case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
		}
	}
}

func (c *OrderStockCoordinator) tryReserve(ctx context.Context, productID string, quantity int64) (result ReserveResult, err error) {
	lease, ok, err := c.lock.Acquire(ctx, stockLockResource(productID), c.cfg.LeaseTTL)
	if err != nil {
		return Contended, err
	}
	if !ok {
		return Contended, nil
	}
	defer func() {
		if _, relErr := c.lock.Release(context.WithoutCancel(ctx), lease); relErr != nil {
			c.logger.Error("Failed to release stock lease",
				zap.String("product_id", productID), zap.Error(relErr))
		}
	}()

	current, err := c.stocks.Get(ctx, productID)
	if err != nil {
		return Insufficient, err
	}
	if current < quantity {
		c.logger.Warn("Insufficient stock for reservation",
			zap.String("product_id", productID),
			zap.Int64("required", quantity),
			zap.Int64("available", current))
		return Insufficient, nil
	}

	_, ok, err = c.stocks.Decrease(ctx, productID, quantity)
	if err != nil {
		return Insufficient, err
	}
	if !ok {
		return Insufficient, nil
	}
	return Reserved, nil
}

// Reserve soft-reserves every line item of an order. If any item cannot be
// reserved, the items reserved so far are given back and the whole order
// fails. A compensation that itself fails is left for the next sweep.
func (c *OrderStockCoordinator) Reserve(ctx context.Context, orderID int64, items []models.LineItem) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderStockCoordinator.Reserve", attribute.Int64("order_id", orderID))
	defer span.End()

	start := time.Now()
	defer func() { util.InventoryReserveLatency.Observe(time.Since(start).Seconds()) }()

	reserved := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		result, err := c.ReserveItem(ctx, item.ProductID, item.Quantity)
		if err == nil && result == Reserved {
			reserved = append(reserved, item)
			continue
		}

		reason := result.String()
		if err != nil {
			reason = "error"
			util.SpanError(span, err)
		}
		util.InventoryReservationsFailed.WithLabelValues(reason).Inc()
		c.logger.Warn("Order reservation failed, rolling back",
			zap.Int64("order_id", orderID),
			zap.String("product_id", item.ProductID),
			zap.String("reason", reason),
			zap.Int("reserved_items", len(reserved)))

		c.Release(ctx, orderID, reserved)
		if err != nil {
			return false, fmt.Errorf("reserve %s for order %d: %w", item.ProductID, orderID, err)
		}
		return false, nil
	}

	return true, nil
}

// Commit is the hard deduction: the fast store already reflects the
// reservation, so its current value is written to the durable store as is.
// Returns the number of products whose durable write failed.
func (c *OrderStockCoordinator) Commit(ctx context.Context, orderID int64, items []models.LineItem) int {
	ctx, span := util.StartSpan(ctx, "OrderStockCoordinator.Commit", attribute.Int64("order_id", orderID))
	defer span.End()

	failed := 0
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		seen[item.ProductID] = struct{}{}

		current, err := c.stocks.Get(ctx, item.ProductID)
		if err == nil {
			err = c.repo.UpdateStock(ctx, item.ProductID, current)
		}
		if err != nil {
			failed++
			util.SyncTasksTotal.WithLabelValues("commit", "error").Inc()
			c.logger.Error("Failed to commit stock to durable store",
				zap.Int64("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
			continue
		}
		util.SyncTasksTotal.WithLabelValues("commit", "ok").Inc()
	}
	return failed
}

// Release returns reserved quantities to the fast store. The durable store
// is not written; the next sweep or audit picks the change up. Returns the
// number of items that could not be released.
func (c *OrderStockCoordinator) Release(ctx context.Context, orderID int64, items []models.LineItem) int {
	failed := 0
	for _, item := range items {
		if _, err := c.stocks.Increase(context.WithoutCancel(ctx), item.ProductID, item.Quantity); err != nil {
			failed++
			c.logger.Error("Failed to release reserved stock",
				zap.Int64("order_id", orderID),
				zap.String("product_id", item.ProductID),
				zap.Int64("quantity", item.Quantity),
				zap.Error(err))
		}
	}
	return failed
}
