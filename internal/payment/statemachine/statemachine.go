// Package statemachine decides and applies order transitions for canonical
// payment events.
package statemachine

import (
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

// Decision is the outcome of evaluating one event kind against an order.
type Decision struct {
	Outcome       paymentdomain.Outcome
	PaymentStatus orderdomain.PaymentStatus
	Status        orderdomain.Status
}

// Mutates reports whether the decision changes the order row.
func (d Decision) Mutates() bool {
	return d.Outcome == paymentdomain.OutcomeApplied
}

type transition struct {
	from          []orderdomain.PaymentStatus
	paymentStatus orderdomain.PaymentStatus
	// status is left unchanged when empty.
	status orderdomain.Status
}

var transitions = map[paymentdomain.EventKind]transition{
	paymentdomain.EventKindAuthorized: {
		from:          []orderdomain.PaymentStatus{orderdomain.PaymentStatusPending},
		paymentStatus: orderdomain.PaymentStatusAuthorized,
	},
	paymentdomain.EventKindCaptured: {
		from:          []orderdomain.PaymentStatus{orderdomain.PaymentStatusPending, orderdomain.PaymentStatusAuthorized},
		paymentStatus: orderdomain.PaymentStatusPaid,
		status:        orderdomain.StatusConfirmed,
	},
	paymentdomain.EventKindFailed: {
		from:          []orderdomain.PaymentStatus{orderdomain.PaymentStatusPending, orderdomain.PaymentStatusAuthorized},
		paymentStatus: orderdomain.PaymentStatusFailed,
		status:        orderdomain.StatusPaymentFailed,
	},
	paymentdomain.EventKindRefunded: {
		from:          []orderdomain.PaymentStatus{orderdomain.PaymentStatusPaid},
		paymentStatus: orderdomain.PaymentStatusRefunded,
		status:        orderdomain.StatusRefunded,
	},
}

// Decide evaluates kind against the order's current state. It never touches
// storage. An event whose target state is already reached is a noop; an event
// not valid from the current payment status yields an IllegalTransitionError
// alongside a decision that keeps the order as it is.
func Decide(order orderdomain.Order, kind paymentdomain.EventKind) (Decision, error) {
	unchanged := Decision{
		Outcome:       paymentdomain.OutcomeNoop,
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
	}

	if kind == paymentdomain.EventKindDisputed || kind == paymentdomain.EventKindUnhandled {
		return unchanged, nil
	}

	t, ok := transitions[kind]
	if !ok {
		return illegal(order, kind)
	}
	if order.PaymentStatus == t.paymentStatus {
		return unchanged, nil
	}

	for _, from := range t.from {
		if order.PaymentStatus != from {
			continue
		}
		next := Decision{
			Outcome:       paymentdomain.OutcomeApplied,
			PaymentStatus: t.paymentStatus,
			Status:        order.Status,
		}
		if t.status != "" {
			next.Status = t.status
		}
		return next, nil
	}

	return illegal(order, kind)
}

func illegal(order orderdomain.Order, kind paymentdomain.EventKind) (Decision, error) {
	return Decision{
			Outcome:       paymentdomain.OutcomeIllegalTransition,
			PaymentStatus: order.PaymentStatus,
			Status:        order.Status,
		}, &paymentdomain.IllegalTransitionError{
			OrderID:           order.ID,
			FromPaymentStatus: order.PaymentStatus,
			FromStatus:        order.Status,
			Kind:              kind,
		}
}

// setsPaymentID reports whether kind carries the provider payment reference
// that an order without one should adopt.
func setsPaymentID(kind paymentdomain.EventKind) bool {
	return kind == paymentdomain.EventKindAuthorized || kind == paymentdomain.EventKindCaptured
}
