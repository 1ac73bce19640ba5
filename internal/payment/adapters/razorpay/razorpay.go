package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/webhookutil"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

var eventKinds = map[string]paymentdomain.EventKind{
	"payment.authorized":      paymentdomain.EventKindAuthorized,
	"payment.captured":        paymentdomain.EventKindCaptured,
	"order.paid":              paymentdomain.EventKindCaptured,
	"payment.failed":          paymentdomain.EventKindFailed,
	"refund.processed":        paymentdomain.EventKindRefunded,
	"refund.created":          paymentdomain.EventKindRefunded,
	"payment.dispute.created": paymentdomain.EventKindDisputed,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderRazorpay
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, _ := webhookutil.ReadString(cfg.Config, "webhook_secret")
	if strings.TrimSpace(secret) == "" && !cfg.ParseOnly {
		return nil, paymentdomain.ErrInvalidConfig
	}

	c := cfg.Clock
	if c == nil {
		c = clock.SystemClock{}
	}

	return &Adapter{
		webhookSecret: strings.TrimSpace(secret),
		clock:         c,
	}, nil
}

type Adapter struct {
	webhookSecret string
	clock         clock.Clock
}

// Verify checks the hex HMAC-SHA256 of the raw body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	expected := webhookutil.SignHex(a.webhookSecret, payload)
	if !webhookutil.EqualHex(signature, expected) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(event.Event)
	if eventType == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	entities := map[string]razorpayEntity{}
	for name, wrapper := range event.Payload {
		var entity razorpayEntity
		if err := json.Unmarshal(wrapper.Entity, &entity); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		entities[name] = entity
	}

	eventID := eventIdentifier(headers, eventType, entities)
	if eventID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	occurredAt := webhookutil.UnixTime(event.CreatedAt, 0, a.clock.Now())
	kind, ok := eventKinds[eventType]
	if !ok {
		return &paymentdomain.PaymentEvent{
			Provider:          paymentdomain.ProviderRazorpay,
			ProviderEventID:   eventID,
			ProviderEventType: eventType,
			Kind:              paymentdomain.EventKindUnhandled,
			OccurredAt:        occurredAt,
			RawPayload:        payload,
		}, nil
	}

	payment, hasPayment := entities["payment"]
	primary := payment
	switch kind {
	case paymentdomain.EventKindRefunded:
		if refund, ok := entities["refund"]; ok {
			primary = refund
		}
	case paymentdomain.EventKindDisputed:
		if dispute, ok := entities["dispute"]; ok {
			primary = dispute
		}
	}
	if !hasPayment && primary.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	orderID := webhookutil.OrderReference(primary.notes())
	if orderID == "" {
		orderID = webhookutil.OrderReference(payment.notes())
	}
	if orderID == "" {
		return nil, paymentdomain.ErrMissingOrderReference
	}

	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		paymentID = strings.TrimSpace(primary.PaymentID)
	}

	currency := primary.Currency
	if currency == "" {
		currency = payment.Currency
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderRazorpay,
		ProviderEventID:   eventID,
		ProviderEventType: eventType,
		Kind:              kind,
		OrderID:           orderID,
		ProviderPaymentID: paymentID,
		Amount:            webhookutil.MinorUnits(primary.Amount),
		Currency:          strings.ToUpper(strings.TrimSpace(currency)),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type razorpayEvent struct {
	Entity    string                           `json:"entity"`
	Event     string                           `json:"event"`
	Contains  []string                         `json:"contains"`
	Payload   map[string]razorpayEntityWrapper `json:"payload"`
	CreatedAt int64                            `json:"created_at"`
}

type razorpayEntityWrapper struct {
	Entity json.RawMessage `json:"entity"`
}

type razorpayEntity struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"payment_id"`
	// Notes is an object when set and an empty array when not.
	Notes json.RawMessage `json:"notes"`
}

func (e razorpayEntity) notes() map[string]any {
	raw := bytes.TrimSpace(e.Notes)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var notes map[string]any
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil
	}
	return notes
}

// eventIdentifier derives the ledger key from the signed body: the event name
// and its primary entity. The unsigned delivery header is only a fallback for
// bodies that carry no entity id.
func eventIdentifier(headers http.Header, eventType string, entities map[string]razorpayEntity) string {
	prefix, _, _ := strings.Cut(eventType, ".")
	if entity, ok := entities[prefix]; ok && strings.TrimSpace(entity.ID) != "" {
		return eventType + ":" + strings.TrimSpace(entity.ID)
	}

	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if id := strings.TrimSpace(entities[name].ID); id != "" {
			return eventType + ":" + id
		}
	}
	if headers != nil {
		return strings.TrimSpace(headers.Get(eventIDHeader))
	}
	return ""
}

// Signature computes the X-Razorpay-Signature value for payload.
func Signature(secret string, payload []byte) string {
	return webhookutil.SignHex(secret, payload)
}
