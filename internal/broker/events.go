package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockChanged appends one entry to the stock change log.
func (ep *EventPublisher) PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "stock-"+event.ProductID, event)
}

// PublishOrderEvent publishes an order lifecycle event
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming order commands
type EventHandler struct {
	onPaymentConfirmed     func(context.Context, *models.PaymentConfirmedCommand) error
	onOrderCancelRequested func(context.Context, *models.OrderCancelRequestedCommand) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PAYMENT_CONFIRMED commands
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedCommand) error) {
	eh.onPaymentConfirmed = handler
}

// OnOrderCancelRequested registers a handler for ORDER_CANCEL_REQUESTED commands
func (eh *EventHandler) OnOrderCancelRequested(handler func(context.Context, *models.OrderCancelRequestedCommand) error) {
	eh.onOrderCancelRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var cmd models.PaymentConfirmedCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentConfirmed command: %w", err)
			}
			return eh.onPaymentConfirmed(ctx, &cmd)
		}

	case models.EventTypeOrderCancelRequested:
		if eh.onOrderCancelRequested != nil {
			var cmd models.OrderCancelRequestedCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCancelRequested command: %w", err)
			}
			return eh.onOrderCancelRequested(ctx, &cmd)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
