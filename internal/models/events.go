package models

import "time"

// Event types
const (
	EventTypeStockChanged   = "STOCK_CHANGED"
	EventTypeOrderReserved  = "ORDER_RESERVED"
	EventTypeOrderFailed    = "ORDER_FAILED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"

	// Commands consumed from the order commands topic.
	EventTypePaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventTypeOrderCancelRequested = "ORDER_CANCEL_REQUESTED"
)

// Stock change operations
const (
	StockOpSet      = "set"
	StockOpIncrease = "increase"
	StockOpDecrease = "decrease"
	StockOpDelete   = "delete"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockChangedEvent is the change log entry for one fast store mutation.
type StockChangedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	Op        string `json:"op"`
	Delta     int64  `json:"delta"`
	NewStock  int64  `json:"new_stock"`
}

// OrderEvent is published on order lifecycle transitions.
type OrderEvent struct {
	BaseEvent
	OrderID     int64      `json:"order_id"`
	UserID      int64      `json:"user_id"`
	TotalAmount int64      `json:"total_amount"`
	Items       []LineItem `json:"items,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// PaymentConfirmedCommand tells the service an order was paid.
type PaymentConfirmedCommand struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	TxID    string `json:"tx_id"`
}

// OrderCancelRequestedCommand asks the service to cancel a reserved order.
type OrderCancelRequestedCommand struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}
