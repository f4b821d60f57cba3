package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/store"
	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidOrderState = errors.New("invalid order state")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// OrderRepository is the durable store of orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
}

// OrderEventPublisher receives order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// OrderService handles order business logic
type OrderService struct {
	orders      OrderRepository
	coordinator *OrderStockCoordinator
	events      OrderEventPublisher
	logger      *zap.Logger
}

// NewOrderService creates a new order service. events may be nil.
func NewOrderService(orders OrderRepository, coordinator *OrderStockCoordinator, events OrderEventPublisher) *OrderService {
	return &OrderService{
		orders:      orders,
		coordinator: coordinator,
		events:      events,
		logger:      util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         int64              `json:"user_id" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// CreateOrder records the order and soft-reserves its stock. When any line
// item cannot be reserved the order ends up FAILED and ErrInsufficientStock
// is returned.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrInvalidQuantity
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existingOrder, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existingOrder != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existingOrder.ID))
		return &CreateOrderResponse{
			OrderID: existingOrder.ID,
			Status:  existingOrder.Status,
		}, nil
	}

	products, err := s.validateOrderItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := &models.Order{
		UserID:         req.UserID,
		TotalAmount:    s.calculateTotal(req.Items, products),
		Status:         models.OrderStatusCreated,
		IdempotencyKey: req.IdempotencyKey,
	}

	orderItems := make([]models.OrderItem, 0, len(req.Items))
	lineItems := make([]models.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		orderItems = append(orderItems, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: products[item.ProductID].Price,
		})
		lineItems = append(lineItems, models.LineItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	if err := s.orders.CreateOrder(ctx, order, orderItems); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	util.OrdersCreatedTotal.Inc()
	span.SetAttributes(attribute.Int64("order_id", order.ID))
	s.logger.Info("Order created", zap.Int64("order_id", order.ID))

	reserved, err := s.coordinator.Reserve(ctx, order.ID, lineItems)
	if err != nil || !reserved {
		s.markFailed(ctx, order, lineItems, err)
		if err != nil {
			util.SpanError(span, err)
			return nil, fmt.Errorf("inventory reservation failed: %w", err)
		}
		return nil, fmt.Errorf("order %d: %w", order.ID, ErrInsufficientStock)
	}

	ok, err := s.orders.TransitionOrderStatus(ctx, order.ID, models.OrderStatusCreated, models.OrderStatusReserved)
	if err != nil || !ok {
		// the stock is already held; give it back rather than leak it
		s.coordinator.Release(ctx, order.ID, lineItems)
		if err == nil {
			err = ErrInvalidOrderState
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = models.OrderStatusReserved

	util.OrdersReservedTotal.Inc()
	s.publish(ctx, models.EventTypeOrderReserved, order, lineItems, "")

	return &CreateOrderResponse{
		OrderID: order.ID,
		Status:  models.OrderStatusReserved,
	}, nil
}

func (s *OrderService) markFailed(ctx context.Context, order *models.Order, items []models.LineItem, cause error) {
	reason := "insufficient_stock"
	if cause != nil {
		reason = "reservation_error"
	}
	util.OrdersFailedTotal.WithLabelValues(reason).Inc()

	if _, err := s.orders.TransitionOrderStatus(ctx, order.ID, models.OrderStatusCreated, models.OrderStatusFailed); err != nil {
		s.logger.Error("Failed to mark order failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	order.Status = models.OrderStatusFailed
	s.publish(ctx, models.EventTypeOrderFailed, order, items, reason)
}

// PayOrder commits a reserved order: the fast store's current stock is
// written to the durable store. Paying an already paid order is a no-op.
func (s *OrderService) PayOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PayOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	order, items, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusPaid {
		return order, nil
	}

	ok, err := s.orders.TransitionOrderStatus(ctx, orderID, models.OrderStatusReserved, models.OrderStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrInvalidOrderState)
	}
	order.Status = models.OrderStatusPaid

	lineItems := toLineItems(items)
	if failed := s.coordinator.Commit(ctx, orderID, lineItems); failed > 0 {
		s.logger.Warn("Order paid with durable stock writes pending",
			zap.Int64("order_id", orderID), zap.Int("failed", failed))
	}

	util.OrdersPaidTotal.Inc()
	s.publish(ctx, models.EventTypeOrderPaid, order, lineItems, "")
	s.logger.Info("Order paid", zap.Int64("order_id", orderID))
	return order, nil
}

// CancelOrder releases a reserved order's stock back to the fast store.
// Cancelling an already cancelled order is a no-op.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	order, items, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return order, nil
	}

	ok, err := s.orders.TransitionOrderStatus(ctx, orderID, models.OrderStatusReserved, models.OrderStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrInvalidOrderState)
	}
	order.Status = models.OrderStatusCancelled

	lineItems := toLineItems(items)
	if failed := s.coordinator.Release(ctx, orderID, lineItems); failed > 0 {
		s.logger.Warn("Order cancelled with stock not fully released",
			zap.Int64("order_id", orderID), zap.Int("failed", failed))
	}

	util.OrdersCancelledTotal.Inc()
	s.publish(ctx, models.EventTypeOrderCancelled, order, lineItems, reason)
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.String("reason", reason))
	return order, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// validateOrderItems validates that all products exist
func (s *OrderService) validateOrderItems(ctx context.Context, items []OrderItemRequest) (map[string]*models.Product, error) {
	ids := make([]string, 0, len(items))
	wanted := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := wanted[item.ProductID]; !ok {
			wanted[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.orders.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	productMap := make(map[string]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	for _, id := range ids {
		if _, ok := productMap[id]; !ok {
			return nil, fmt.Errorf("product %s: %w", id, ErrProductNotFound)
		}
	}

	return productMap, nil
}

// calculateTotal calculates the total amount for an order
func (s *OrderService) calculateTotal(items []OrderItemRequest, products map[string]*models.Product) int64 {
	var total int64
	for _, item := range items {
		total += products[item.ProductID].Price * item.Quantity
	}
	return total
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order, items []models.LineItem, reason string) {
	if s.events == nil {
		return
	}

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       items,
		Reason:      reason,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func toLineItems(items []models.OrderItem) []models.LineItem {
	out := make([]models.LineItem, len(items))
	for i, item := range items {
		out[i] = models.LineItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return out
}
