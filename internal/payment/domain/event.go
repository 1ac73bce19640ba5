package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
	ProviderPaypal   = "paypal"
)

// EventKind is the provider-neutral meaning of a payment webhook.
type EventKind string

const (
	EventKindAuthorized EventKind = "AUTHORIZED"
	EventKindCaptured   EventKind = "CAPTURED"
	EventKindFailed     EventKind = "FAILED"
	EventKindRefunded   EventKind = "REFUNDED"
	EventKindDisputed   EventKind = "DISPUTED"
	// EventKindUnhandled marks provider events the engine acknowledges and ignores.
	EventKindUnhandled EventKind = "UNHANDLED"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderEventType string
	Kind              EventKind
	OrderID           string
	ProviderPaymentID string
	Amount            *decimal.Decimal
	Currency          string
	OccurredAt        time.Time
	ReceivedAt        time.Time
	RawPayload        []byte
}

// Handled reports whether the event can affect order state.
func (e *PaymentEvent) Handled() bool {
	return e != nil && e.Kind != EventKindUnhandled && e.Kind != ""
}
