package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/webhookutil"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const defaultTolerance = 5 * time.Minute

var eventKinds = map[string]paymentdomain.EventKind{
	"payment_intent.amount_capturable_updated": paymentdomain.EventKindAuthorized,
	"payment_intent.succeeded":                 paymentdomain.EventKindCaptured,
	"charge.succeeded":                         paymentdomain.EventKindCaptured,
	"payment_intent.payment_failed":            paymentdomain.EventKindFailed,
	"charge.failed":                            paymentdomain.EventKindFailed,
	"charge.refunded":                          paymentdomain.EventKindRefunded,
	"charge.dispute.created":                   paymentdomain.EventKindDisputed,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, _ := webhookutil.ReadString(cfg.Config, "webhook_secret")
	secret = strings.TrimSpace(secret)
	if secret == "" && !cfg.ParseOnly {
		return nil, paymentdomain.ErrInvalidConfig
	}

	tolerance, ok := webhookutil.ReadDuration(cfg.Config, "tolerance")
	if !ok {
		tolerance = defaultTolerance
	}

	c := cfg.Clock
	if c == nil {
		c = clock.SystemClock{}
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
		clock:         c,
	}, nil
}

type Adapter struct {
	webhookSecret string
	// tolerance bounds the signed timestamp age; zero disables the check.
	tolerance time.Duration
	clock     clock.Clock
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := make([]byte, 0, len(timestamp)+1+len(payload))
	signedPayload = append(signedPayload, timestamp...)
	signedPayload = append(signedPayload, '.')
	signedPayload = append(signedPayload, payload...)
	expected := webhookutil.SignHex(a.webhookSecret, signedPayload)

	matched := false
	for _, signature := range signatures {
		if webhookutil.EqualHex(signature, expected) {
			matched = true
		}
	}
	if !matched {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		seconds, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.clock.Now().Sub(time.Unix(seconds, 0))
		if age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, _ http.Header) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.Type)
	kind, ok := eventKinds[eventType]
	if !ok {
		return &paymentdomain.PaymentEvent{
			Provider:          paymentdomain.ProviderStripe,
			ProviderEventID:   event.ID,
			ProviderEventType: eventType,
			Kind:              paymentdomain.EventKindUnhandled,
			OccurredAt:        webhookutil.UnixTime(event.Created, 0, a.clock.Now()),
			RawPayload:        payload,
		}, nil
	}

	var object stripeObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	orderID := webhookutil.OrderReference(object.Metadata)
	if orderID == "" {
		return nil, paymentdomain.ErrMissingOrderReference
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderStripe,
		ProviderEventID:   event.ID,
		ProviderEventType: eventType,
		Kind:              kind,
		OrderID:           orderID,
		ProviderPaymentID: object.paymentID(),
		Amount:            webhookutil.MinorUnits(object.amountFor(kind)),
		Currency:          strings.ToUpper(strings.TrimSpace(object.Currency)),
		OccurredAt:        webhookutil.UnixTime(object.Created, event.Created, a.clock.Now()),
		RawPayload:        payload,
	}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeObject covers the fields shared by payment intents, charges and
// disputes that the normalizer reads.
type stripeObject struct {
	ID               string         `json:"id"`
	Object           string         `json:"object"`
	Amount           int64          `json:"amount"`
	AmountReceived   int64          `json:"amount_received"`
	AmountCapturable int64          `json:"amount_capturable"`
	AmountRefunded   int64          `json:"amount_refunded"`
	Currency         string         `json:"currency"`
	Created          int64          `json:"created"`
	PaymentIntent    string         `json:"payment_intent"`
	Charge           string         `json:"charge"`
	Metadata         map[string]any `json:"metadata"`
}

// paymentID prefers the payment intent so every event of one payment
// resolves to the same gateway reference.
func (o stripeObject) paymentID() string {
	if id := strings.TrimSpace(o.PaymentIntent); id != "" {
		return id
	}
	if o.Object == "dispute" {
		if id := strings.TrimSpace(o.Charge); id != "" {
			return id
		}
	}
	return strings.TrimSpace(o.ID)
}

func (o stripeObject) amountFor(kind paymentdomain.EventKind) int64 {
	switch {
	case kind == paymentdomain.EventKindAuthorized && o.AmountCapturable > 0:
		return o.AmountCapturable
	case kind == paymentdomain.EventKindCaptured && o.AmountReceived > 0:
		return o.AmountReceived
	case kind == paymentdomain.EventKindRefunded && o.AmountRefunded > 0:
		return o.AmountRefunded
	default:
		return o.Amount
	}
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

// SignatureHeader builds a Stripe-Signature value for payload. It is used to
// sign locally generated test deliveries.
func SignatureHeader(secret string, payload []byte, timestamp int64) string {
	ts := strconv.FormatInt(timestamp, 10)
	signed := append([]byte(ts+"."), payload...)
	return "t=" + ts + ",v1=" + webhookutil.SignHex(secret, signed)
}
