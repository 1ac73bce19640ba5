package context

import (
	"context"
	"strings"
)

type ctxKey string

// Gin keys set by the webhook handlers and read by the request log and span.
const (
	KeyReconcileOutcome = "reconcile_outcome"
	KeyProviderEventID  = "provider_event_id"
	KeyOrderID          = "order_id"
)

const (
	requestIDKey ctxKey = "request_id"
	providerKey  ctxKey = "provider"
	actorKey     ctxKey = "actor"
	eventKey     ctxKey = "payment_event"
)

// PaymentEvent identifies the webhook event a context is reconciling.
type PaymentEvent struct {
	ProviderEventID string
	OrderID         string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithProvider tags the context with the payment provider handling the request.
func WithProvider(ctx context.Context, provider string) context.Context {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return ctx
	}
	return context.WithValue(ctx, providerKey, provider)
}

func ProviderFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(providerKey).(string)
	return value
}

// WithActor records the admin role that authenticated the request.
func WithActor(ctx context.Context, role string) context.Context {
	role = strings.TrimSpace(role)
	if role == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, role)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorKey).(string)
	return value
}

// WithPaymentEvent tags the context once a webhook body has been normalized,
// so downstream queries and spans carry the event and order ids.
func WithPaymentEvent(ctx context.Context, providerEventID, orderID string) context.Context {
	event := PaymentEvent{
		ProviderEventID: strings.TrimSpace(providerEventID),
		OrderID:         strings.TrimSpace(orderID),
	}
	if event.ProviderEventID == "" && event.OrderID == "" {
		return ctx
	}
	return context.WithValue(ctx, eventKey, event)
}

func PaymentEventFromContext(ctx context.Context) (PaymentEvent, bool) {
	if ctx == nil {
		return PaymentEvent{}, false
	}
	event, ok := ctx.Value(eventKey).(PaymentEvent)
	return event, ok
}
