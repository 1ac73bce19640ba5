package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	ID       string
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Currency string
}

type Service interface {
	Create(context.Context, CreateOrderRequest) (Order, error)
	GetByID(context.Context, string) (Order, error)
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrNotFound        = errors.New("order_not_found")
	ErrAlreadyExists   = errors.New("order_already_exists")
	ErrVersionConflict = errors.New("order_version_conflict")
)
