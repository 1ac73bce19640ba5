package domain

import (
	"context"
	"net/http"

	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

// WebhookResult is the terminal answer to one webhook delivery.
type WebhookResult struct {
	Acknowledged    bool   `json:"acknowledged"`
	HTTPStatus      int    `json:"http_status"`
	Outcome         string `json:"outcome"`
	Provider        string `json:"provider,omitempty"`
	ProviderEventID string `json:"provider_event_id,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	Status          string `json:"status,omitempty"`
}

// Terminal outcomes reported by the dispatcher, beyond the ledger outcomes.
const (
	ResultDuplicate        = "duplicate"
	ResultUnhandled        = "unhandled"
	ResultOrderNotFound    = "order_not_found"
	ResultRejected         = "rejected"
	ResultTransientFailure = "transient_failure"
)

type WebhookService interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error)
	// Replay runs an already authenticated body through normalization and
	// apply without checking its signature.
	Replay(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error)
}

type ListLedgerResponse struct {
	pagination.PageInfo
	Records []*LedgerRecord `json:"records"`
}

// LedgerService is the read side of the idempotency ledger.
type LedgerService interface {
	GetEvent(ctx context.Context, provider, providerEventID string) (LedgerRecord, error)
	ListEvents(ctx context.Context, filter ListLedgerFilter) (ListLedgerResponse, error)
}
