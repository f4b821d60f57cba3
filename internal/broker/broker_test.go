package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"stock-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishStockChangedKeysByProduct(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(newProducer(w, "stock-events"))

	event := &models.StockChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeStockChanged},
		ProductID: "P1",
		Op:        models.StockOpDecrease,
		Delta:     4,
		NewStock:  6,
	}
	require.NoError(t, ep.PublishStockChanged(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "stock-P1", string(w.msgs[0].Key))

	var decoded models.StockChangedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, *event, decoded)
}

func TestPublishOrderEventKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(newProducer(w, "stock-events"))

	require.NoError(t, ep.PublishOrderEvent(context.Background(), &models.OrderEvent{OrderID: 42}))
	assert.Equal(t, "order-42", string(w.msgs[0].Key))
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newProducer(&fakeWriter{err: boom}, "stock-events")

	assert.ErrorIs(t, p.PublishEvent(context.Background(), "k", map[string]string{}), boom)
}

func TestHandleMessageRoutesCommands(t *testing.T) {
	eh := NewEventHandler()

	var paid, cancelled int64
	var reason string
	eh.OnPaymentConfirmed(func(ctx context.Context, cmd *models.PaymentConfirmedCommand) error {
		paid = cmd.OrderID
		return nil
	})
	eh.OnOrderCancelRequested(func(ctx context.Context, cmd *models.OrderCancelRequestedCommand) error {
		cancelled = cmd.OrderID
		reason = cmd.Reason
		return nil
	})

	pay, _ := json.Marshal(models.PaymentConfirmedCommand{
		BaseEvent: models.BaseEvent{EventType: models.EventTypePaymentConfirmed},
		OrderID:   7,
	})
	cancel, _ := json.Marshal(models.OrderCancelRequestedCommand{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderCancelRequested},
		OrderID:   8,
		Reason:    "timeout",
	})

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: pay}))
	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: cancel}))
	assert.Equal(t, int64(7), paid)
	assert.Equal(t, int64(8), cancelled)
	assert.Equal(t, "timeout", reason)
}

func TestHandleMessageIgnoresUnknownAndRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()

	other, _ := json.Marshal(models.BaseEvent{EventType: "SOMETHING_ELSE"})
	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: other}))
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}
