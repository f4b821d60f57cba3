package worker

import (
	"context"

	"stock-service/internal/broker"
	"stock-service/internal/models"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// OrderCommands is the order lifecycle driven by the command topic.
type OrderCommands interface {
	PayOrder(ctx context.Context, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) (*models.Order, error)
}

// OrderCommandWorker consumes order commands and applies them.
type OrderCommandWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       OrderCommands
	logger       *zap.Logger
}

// NewOrderCommandWorker creates a new order command worker
func NewOrderCommandWorker(consumer *broker.Consumer, orders OrderCommands) *OrderCommandWorker {
	w := &OrderCommandWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPaymentConfirmed(w.handlePaymentConfirmed)
	w.eventHandler.OnOrderCancelRequested(w.handleCancelRequested)
	return w
}

// Start blocks consuming commands until ctx is cancelled.
func (w *OrderCommandWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order command worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderCommandWorker) Stop() error {
	w.logger.Info("Stopping order command worker")
	return w.consumer.Close()
}

func (w *OrderCommandWorker) handlePaymentConfirmed(ctx context.Context, cmd *models.PaymentConfirmedCommand) error {
	order, err := w.orders.PayOrder(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	w.logger.Info("Payment confirmed",
		zap.Int64("order_id", order.ID),
		zap.String("tx_id", cmd.TxID))
	return nil
}

func (w *OrderCommandWorker) handleCancelRequested(ctx context.Context, cmd *models.OrderCancelRequestedCommand) error {
	order, err := w.orders.CancelOrder(ctx, cmd.OrderID, cmd.Reason)
	if err != nil {
		return err
	}
	w.logger.Info("Order cancelled by command",
		zap.Int64("order_id", order.ID),
		zap.String("reason", cmd.Reason))
	return nil
}
