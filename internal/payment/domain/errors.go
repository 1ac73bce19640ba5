package domain

import (
	"errors"
	"fmt"

	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
)

var (
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_provider_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrMissingOrderReference = errors.New("missing_order_reference")
	ErrDuplicateEvent        = errors.New("duplicate_event")
	ErrEventNotFound         = errors.New("payment_event_not_found")
	ErrInvalidEventID        = errors.New("invalid_event_id")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
)

// AuthenticationError wraps a failed webhook signature check.
type AuthenticationError struct {
	Provider string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s webhook authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// MalformedPayloadError wraps a body that verified but could not be normalized.
type MalformedPayloadError struct {
	Provider string
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("%s webhook payload malformed: %v", e.Provider, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// IllegalTransitionError reports an event that is not allowed from the
// order's current payment state. The event is acknowledged, never applied.
type IllegalTransitionError struct {
	OrderID           string
	FromPaymentStatus orderdomain.PaymentStatus
	FromStatus        orderdomain.Status
	Kind              EventKind
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for order %s: %s from payment status %s (status %s)",
		e.OrderID, e.Kind, e.FromPaymentStatus, e.FromStatus)
}

// TransientPersistenceError means the transition could not be committed
// after all retries. The provider is expected to redeliver.
type TransientPersistenceError struct {
	Attempts int
	Err      error
}

func (e *TransientPersistenceError) Error() string {
	return fmt.Sprintf("transient persistence failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientPersistenceError) Unwrap() error { return e.Err }

func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsMalformedPayloadError(err error) bool {
	var target *MalformedPayloadError
	return errors.As(err, &target)
}

func IsIllegalTransition(err error) bool {
	var target *IllegalTransitionError
	return errors.As(err, &target)
}

func IsTransientPersistenceError(err error) bool {
	var target *TransientPersistenceError
	return errors.As(err, &target)
}
