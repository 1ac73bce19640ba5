package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfillment lifecycle of an order.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusConfirmed     Status = "CONFIRMED"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusRefunded      Status = "REFUNDED"
	StatusShipped       Status = "SHIPPED"
	StatusDelivered     Status = "DELIVERED"
	StatusCancelled     Status = "CANCELLED"
)

// PaymentStatus is the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusPaid       PaymentStatus = "PAID"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

type Order struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"subtotal"`
	Tax           decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"tax"`
	Shipping      decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"shipping"`
	Total         decimal.Decimal `gorm:"type:numeric(19,4);not null" json:"total"`
	Currency      string          `gorm:"not null" json:"currency"`
	Status        Status          `gorm:"not null" json:"status"`
	PaymentStatus PaymentStatus   `gorm:"not null" json:"payment_status"`
	PaymentID     *string         `json:"payment_id,omitempty"`
	Version       int64           `gorm:"not null" json:"version"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderStatusUpdate is the full post-transition state written by the
// reconciliation engine. PaymentID nil leaves the stored reference untouched.
type OrderStatusUpdate struct {
	PaymentStatus PaymentStatus
	Status        Status
	PaymentID     *string
	UpdatedAt     time.Time
}
