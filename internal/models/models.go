package models

import "time"

// Product is the durable record of a product, including the last reconciled
// stock snapshot. TotalStock is overwritten wholesale on every sync.
type Product struct {
	ID         string    `db:"product_id" json:"product_id" gorm:"column:product_id;primaryKey;size:64"`
	Name       string    `db:"name" json:"name" gorm:"column:name;size:255"`
	Price      int64     `db:"price" json:"price" gorm:"column:price"`
	TotalStock int64     `db:"total_stock" json:"total_stock" gorm:"column:total_stock"`
	CreatedAt  time.Time `db:"created_at" json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName is used by gorm.
func (Product) TableName() string {
	return "products"
}

// Order represents a customer order
type Order struct {
	ID             int64     `db:"id" json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID         int64     `db:"user_id" json:"user_id" gorm:"column:user_id"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount" gorm:"column:total_amount"`
	Status         string    `db:"status" json:"status" gorm:"column:status;size:32"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty" gorm:"column:idempotency_key;size:64;uniqueIndex"`
	CreatedAt      time.Time `db:"created_at" json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64  `db:"id" json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   int64  `db:"order_id" json:"order_id" gorm:"column:order_id;index"`
	ProductID string `db:"product_id" json:"product_id" gorm:"column:product_id;size:64"`
	Quantity  int64  `db:"quantity" json:"quantity" gorm:"column:quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price" gorm:"column:unit_price"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// Order statuses
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusReserved  = "RESERVED"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusFailed    = "FAILED"
)

// LineItem is one product/quantity pair whose stock moves together.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// Mismatch records one product whose fast and durable values disagreed.
type Mismatch struct {
	ProductID    string `json:"product_id"`
	FastValue    int64  `json:"fast_value"`
	DurableValue int64  `json:"durable_value"`
	Healed       bool   `json:"healed"`
}

// ConsistencyReport is the result of one audit sweep.
type ConsistencyReport struct {
	TotalChecked    int           `json:"total_checked"`
	MismatchCount   int           `json:"mismatch_count"`
	FailedCount     int           `json:"failed_count"`
	ConsistencyRate float64       `json:"consistency_rate"`
	Mismatches      []Mismatch    `json:"mismatches"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
}

// SweepResult summarizes one scheduled sync sweep.
type SweepResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}
