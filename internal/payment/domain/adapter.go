package domain

import (
	"context"
	"net/http"

	"github.com/smallbiznis/storefront/internal/clock"
)

type AdapterConfig struct {
	Provider string
	Config   map[string]any
	Clock    clock.Clock
	// ParseOnly builds an adapter without credentials. Its Verify always
	// fails with ErrInvalidConfig.
	ParseOnly bool
}

// PaymentAdapter authenticates and normalizes one provider's webhooks.
type PaymentAdapter interface {
	// Verify checks the signature over the raw, unparsed body.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse maps the body to a canonical event. Unknown event types yield
	// EventKindUnhandled rather than an error.
	Parse(ctx context.Context, payload []byte, headers http.Header) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
