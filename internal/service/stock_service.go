package service

import (
	"context"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockEventPublisher receives the stock change log.
type StockEventPublisher interface {
	PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error
}

// StockService is the stock API used by the HTTP layer. Each successful
// regular-stock mutation queues a durable propagation and a change event;
// neither is awaited.
type StockService struct {
	stocks      *StockStore
	coordinator *OrderStockCoordinator
	syncer      *StockSyncer
	repo        SnapshotRepository
	pool        *worker.Pool
	events      StockEventPublisher
	warmUpLimit int
	logger      *zap.Logger
}

// NewStockService wires the facade. events may be nil.
func NewStockService(
	stocks *StockStore,
	coordinator *OrderStockCoordinator,
	syncer *StockSyncer,
	repo SnapshotRepository,
	pool *worker.Pool,
	events StockEventPublisher,
	warmUpLimit int,
) *StockService {
	if warmUpLimit <= 0 {
		warmUpLimit = DefaultSweepLimit
	}
	return &StockService{
		stocks:      stocks,
		coordinator: coordinator,
		syncer:      syncer,
		repo:        repo,
		pool:        pool,
		events:      events,
		warmUpLimit: warmUpLimit,
		logger:      util.GetLogger(),
	}
}

func (s *StockService) SetStock(ctx context.Context, productID string, quantity int64) error {
	if err := s.stocks.Set(ctx, productID, quantity); err != nil {
		return err
	}
	s.changed(productID, models.StockOpSet, quantity, quantity)
	return nil
}

func (s *StockService) GetStock(ctx context.Context, productID string) (int64, error) {
	return s.stocks.Get(ctx, productID)
}

func (s *StockService) IncreaseStock(ctx context.Context, productID string, delta int64) (int64, error) {
	n, err := s.stocks.Increase(ctx, productID, delta)
	if err != nil {
		return 0, err
	}
	s.changed(productID, models.StockOpIncrease, delta, n)
	return n, nil
}

// DecreaseStock subtracts delta; ok is false when stock was insufficient.
func (s *StockService) DecreaseStock(ctx context.Context, productID string, delta int64) (int64, bool, error) {
	n, ok, err := s.stocks.Decrease(ctx, productID, delta)
	if err != nil || !ok {
		return n, ok, err
	}
	s.changed(productID, models.StockOpDecrease, delta, n)
	return n, true, nil
}

// DeductStock checks availability first and then decreases. A rejected
// deduction leaves the quantity untouched.
func (s *StockService) DeductStock(ctx context.Context, productID string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	current, err := s.stocks.Get(ctx, productID)
	if err != nil {
		return false, err
	}
	if current < quantity {
		s.logger.Warn("Insufficient stock for deduction",
			zap.String("product_id", productID),
			zap.Int64("required", quantity),
			zap.Int64("available", current))
		return false, nil
	}

	n, ok, err := s.stocks.Decrease(ctx, productID, quantity)
	if err != nil || !ok {
		return false, err
	}
	s.changed(productID, models.StockOpDecrease, quantity, n)
	return true, nil
}

// LockStock is DeductStock under the product's reservation lease. It
// returns false both on insufficient stock and on lease contention.
func (s *StockService) LockStock(ctx context.Context, productID string, quantity int64) (bool, error) {
	result, err := s.coordinator.ReserveItem(ctx, productID, quantity)
	if err != nil {
		return false, err
	}
	if result != Reserved {
		s.logger.Info("Stock lock rejected",
			zap.String("product_id", productID),
			zap.Int64("quantity", quantity),
			zap.Stringer("result", result))
		return false, nil
	}

	s.changedNow(ctx, productID, models.StockOpDecrease, quantity)
	return true, nil
}

// ReleaseStock gives back a previously locked quantity.
func (s *StockService) ReleaseStock(ctx context.Context, productID string, quantity int64) (int64, error) {
	n, err := s.IncreaseStock(ctx, productID, quantity)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Released stock", zap.String("product_id", productID), zap.Int64("quantity", quantity))
	return n, nil
}

// BatchGetStock returns quantities in the order of productIDs.
func (s *StockService) BatchGetStock(ctx context.Context, productIDs []string) ([]int64, error) {
	return s.stocks.BatchGet(ctx, productIDs)
}

func (s *StockService) StockExists(ctx context.Context, productID string) (bool, error) {
	return s.stocks.Exists(ctx, productID)
}

// DeleteStock evicts the counter. The durable snapshot is kept; it is not a
// stock change, so nothing is propagated.
func (s *StockService) DeleteStock(ctx context.Context, productID string) error {
	if err := s.stocks.Delete(ctx, productID); err != nil {
		return err
	}
	s.publish(productID, models.StockOpDelete, 0, 0)
	s.logger.Info("Deleted stock", zap.String("product_id", productID))
	return nil
}

func (s *StockService) SetSeckillStock(ctx context.Context, campaignID, productID string, quantity int64) error {
	return s.stocks.SetSeckill(ctx, campaignID, productID, quantity)
}

func (s *StockService) GetSeckillStock(ctx context.Context, campaignID, productID string) (int64, error) {
	return s.stocks.GetSeckill(ctx, campaignID, productID)
}

// DeductSeckillStock deducts from the campaign counter only; the regular
// counter of the product is never touched.
func (s *StockService) DeductSeckillStock(ctx context.Context, campaignID, productID string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	current, err := s.stocks.GetSeckill(ctx, campaignID, productID)
	if err != nil {
		return false, err
	}
	if current < quantity {
		s.logger.Warn("Insufficient seckill stock",
			zap.String("campaign_id", campaignID),
			zap.String("product_id", productID),
			zap.Int64("required", quantity),
			zap.Int64("available", current))
		return false, nil
	}

	_, ok, err := s.stocks.DecreaseSeckill(ctx, campaignID, productID, quantity)
	return ok, err
}

// SaveProduct writes the product to the durable store first and then sets
// the fast counter to its TotalStock.
func (s *StockService) SaveProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.TotalStock < 0 {
		return ErrInvalidQuantity
	}

	if err := s.repo.Save(ctx, product); err != nil {
		return err
	}
	if err := s.stocks.Set(ctx, product.ID, product.TotalStock); err != nil {
		return fmt.Errorf("product %s saved but fast stock not set: %w", product.ID, err)
	}
	s.publish(product.ID, models.StockOpSet, product.TotalStock, product.TotalStock)
	return nil
}

// WarmUp seeds absent fast counters from the durable snapshots. Existing
// counters are left alone since the fast store is authoritative.
func (s *StockService) WarmUp(ctx context.Context) (int, error) {
	products, err := s.repo.ListProducts(ctx, s.warmUpLimit)
	if err != nil {
		return 0, fmt.Errorf("list products for warm-up: %w", err)
	}

	seeded := 0
	for _, p := range products {
		ok, err := s.stocks.InitIfAbsent(ctx, p.ID, p.TotalStock)
		if err != nil {
			s.logger.Error("Failed to warm up stock", zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		if ok {
			seeded++
		}
	}

	s.logger.Info("Stock warm-up finished", zap.Int("products", len(products)), zap.Int("seeded", seeded))
	return seeded, nil
}

// SyncNow propagates one product and waits for the durable write.
func (s *StockService) SyncNow(ctx context.Context, productID string) error {
	return s.syncer.SyncProduct(productID).Wait(ctx)
}

func (s *StockService) changedNow(ctx context.Context, productID, op string, delta int64) {
	n, err := s.stocks.Get(ctx, productID)
	if err != nil {
		s.logger.Warn("Failed to read stock after change", zap.String("product_id", productID), zap.Error(err))
	}
	s.changed(productID, op, delta, n)
}

func (s *StockService) changed(productID, op string, delta, newStock int64) {
	s.syncer.SyncProduct(productID)
	s.publish(productID, op, delta, newStock)
}

func (s *StockService) publish(productID, op string, delta, newStock int64) {
	if s.events == nil {
		return
	}

	event := &models.StockChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.NewString(),
			EventType: models.EventTypeStockChanged,
			Timestamp: time.Now(),
		},
		ProductID: productID,
		Op:        op,
		Delta:     delta,
		NewStock:  newStock,
	}
	s.pool.Submit("event:"+productID, func(ctx context.Context) error {
		return s.events.PublishStockChanged(ctx, event)
	})
}
