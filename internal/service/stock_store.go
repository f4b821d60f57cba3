package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"stock-service/internal/redisclient"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// DefaultStockTTL is how long an untouched counter lives in the fast store.
const DefaultStockTTL = time.Hour

// ErrInvalidQuantity is returned for negative stock or non-positive deltas.
var ErrInvalidQuantity = errors.New("invalid quantity")

// StockStore owns every mutation of the fast stock counters. All methods
// are single atomic Redis operations or short sequences of them; callers
// never read-modify-write a counter themselves.
type StockStore struct {
	redis  *redisclient.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStockStore creates a stock store; ttl <= 0 selects DefaultStockTTL.
func NewStockStore(redis *redisclient.Client, ttl time.Duration) *StockStore {
	if ttl <= 0 {
		ttl = DefaultStockTTL
	}
	return &StockStore{
		redis:  redis,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Get returns the available quantity. An absent or unparsable record reads
// as 0 with no error; only a failure to reach Redis is returned.
func (s *StockStore) Get(ctx context.Context, productID string) (int64, error) {
	return s.get(ctx, stockKey(productID))
}

// Set overwrites the quantity and refreshes the TTL.
func (s *StockStore) Set(ctx context.Context, productID string, quantity int64) error {
	return s.set(ctx, stockKey(productID), quantity)
}

// InitIfAbsent seeds the counter only when no record exists.
func (s *StockStore) InitIfAbsent(ctx context.Context, productID string, quantity int64) (bool, error) {
	if quantity < 0 {
		return false, ErrInvalidQuantity
	}
	ok, err := s.redis.SetIfAbsent(ctx, stockKey(productID), quantity, s.ttl)
	if err != nil {
		return false, fmt.Errorf("init stock %s: %w", productID, err)
	}
	return ok, nil
}

// Increase atomically adds delta and returns the new quantity.
func (s *StockStore) Increase(ctx context.Context, productID string, delta int64) (int64, error) {
	return s.increase(ctx, stockKey(productID), delta)
}

// Decrease atomically subtracts delta. When the result would be negative
// the subtraction is compensated and ok is false.
//
// The subtract and the compensation are two separate commands: in between,
// readers may see a transient negative value and a concurrent Decrease may
// fail because of it. No call leaves a negative value behind.
func (s *StockStore) Decrease(ctx context.Context, productID string, delta int64) (remaining int64, ok bool, err error) {
	return s.decrease(ctx, stockKey(productID), delta)
}

// Exists reports whether a counter is present for the product.
func (s *StockStore) Exists(ctx context.Context, productID string) (bool, error) {
	return s.redis.Exists(ctx, stockKey(productID))
}

// Delete drops the counter; subsequent reads see 0.
func (s *StockStore) Delete(ctx context.Context, productID string) error {
	if err := s.redis.Del(ctx, stockKey(productID)); err != nil {
		return fmt.Errorf("delete stock %s: %w", productID, err)
	}
	return nil
}

// BatchGet reads many counters in one round trip; absent ones read as 0.
func (s *StockStore) BatchGet(ctx context.Context, productIDs []string) ([]int64, error) {
	if len(productIDs) == 0 {
		return []int64{}, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = stockKey(id)
	}

	vals, found, err := s.redis.MGetInt64(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("batch get stock: %w", err)
	}
	for i, ok := range found {
		if !ok {
			util.StockCacheMissesTotal.Inc()
			s.logger.Debug("Stock not found in fast store", zap.String("product_id", productIDs[i]))
		}
	}
	return vals, nil
}

// GetSeckill returns the campaign counter of a product.
func (s *StockStore) GetSeckill(ctx context.Context, campaignID, productID string) (int64, error) {
	return s.get(ctx, seckillStockKey(campaignID, productID))
}

// SetSeckill overwrites the campaign counter of a product.
func (s *StockStore) SetSeckill(ctx context.Context, campaignID, productID string, quantity int64) error {
	return s.set(ctx, seckillStockKey(campaignID, productID), quantity)
}

// DecreaseSeckill is Decrease on the campaign namespace.
func (s *StockStore) DecreaseSeckill(ctx context.Context, campaignID, productID string, delta int64) (int64, bool, error) {
	return s.decrease(ctx, seckillStockKey(campaignID, productID), delta)
}

func (s *StockStore) get(ctx context.Context, key string) (int64, error) {
	n, err := s.redis.GetInt64(ctx, key)
	switch {
	case err == nil:
		return n, nil
	case redisclient.IsNil(err):
		util.StockCacheMissesTotal.Inc()
		s.logger.Warn("Stock not found in fast store", zap.String("key", key))
		return 0, nil
	case isParseError(err):
		s.logger.Error("Invalid stock value in fast store", zap.String("key", key), zap.Error(err))
		return 0, nil
	default:
		util.StockOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
}

func (s *StockStore) set(ctx context.Context, key string, quantity int64) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	if err := s.redis.Set(ctx, key, quantity, s.ttl); err != nil {
		util.StockOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("set %s: %w", key, err)
	}
	util.StockOperationsTotal.WithLabelValues("set", "ok").Inc()
	s.logger.Info("Set stock", zap.String("key", key), zap.Int64("stock", quantity))
	return nil
}

func (s *StockStore) increase(ctx context.Context, key string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, ErrInvalidQuantity
	}
	n, err := s.redis.IncrByWithTTL(ctx, key, delta, s.ttl)
	if err != nil {
		util.StockOperationsTotal.WithLabelValues("increase", "error").Inc()
		return 0, fmt.Errorf("increase %s: %w", key, err)
	}
	util.StockOperationsTotal.WithLabelValues("increase", "ok").Inc()
	s.logger.Info("Increased stock", zap.String("key", key), zap.Int64("delta", delta), zap.Int64("new_stock", n))
	return n, nil
}

func (s *StockStore) decrease(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if delta <= 0 {
		return 0, false, ErrInvalidQuantity
	}

	n, err := s.redis.DecrBy(ctx, key, delta)
	if err != nil {
		util.StockOperationsTotal.WithLabelValues("decrease", "error").Inc()
		return 0, false, fmt.Errorf("decrease %s: %w", key, err)
	}

	if n < 0 {
		restored, err := s.redis.IncrBy(ctx, key, delta)
		if err != nil {
			s.logger.Error("Failed to compensate negative stock",
				zap.String("key", key), zap.Int64("delta", delta), zap.Error(err))
			util.StockOperationsTotal.WithLabelValues("decrease", "error").Inc()
			return 0, false, fmt.Errorf("compensate %s: %w", key, err)
		}
		util.StockCompensationsTotal.Inc()
		util.StockOperationsTotal.WithLabelValues("decrease", "insufficient").Inc()
		s.logger.Warn("Insufficient stock",
			zap.String("key", key), zap.Int64("delta", delta), zap.Int64("current_stock", restored))
		return restored, false, nil
	}

	if err := s.redis.Expire(ctx, key, s.ttl); err != nil {
		s.logger.Warn("Failed to refresh stock expiry", zap.String("key", key), zap.Error(err))
	}
	util.StockOperationsTotal.WithLabelValues("decrease", "ok").Inc()
	s.logger.Info("Decreased stock", zap.String("key", key), zap.Int64("delta", delta), zap.Int64("new_stock", n))
	return n, true, nil
}

func isParseError(err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr)
}
