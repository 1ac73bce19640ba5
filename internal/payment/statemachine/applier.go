package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	outboxdomain "github.com/smallbiznis/storefront/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	GenID  *snowflake.Node
	Orders orderdomain.Repository
	Ledger paymentdomain.LedgerRepository
	Outbox outboxdomain.Repository
}

// Applier commits one canonical event against its order. The order row,
// the ledger record and the outbox row are written in a single transaction.
type Applier struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	genID  *snowflake.Node
	orders orderdomain.Repository
	ledger paymentdomain.LedgerRepository
	outbox outboxdomain.Repository
}

// Result describes a committed application.
type Result struct {
	Outcome  paymentdomain.Outcome
	Previous orderdomain.Order
	Order    orderdomain.Order
	Record   *paymentdomain.LedgerRecord
}

func NewApplier(p Params) *Applier {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Applier{
		db:     p.DB,
		log:    p.Log.Named("payment.statemachine"),
		clock:  c,
		genID:  p.GenID,
		orders: p.Orders,
		ledger: p.Ledger,
		outbox: p.Outbox,
	}
}

// Apply locks the order, decides the transition and writes it together with
// the ledger record. Errors:
//   - orderdomain.ErrNotFound: no order, nothing written.
//   - paymentdomain.ErrDuplicateEvent: the event was already recorded; rolled back.
//   - orderdomain.ErrVersionConflict: lost a concurrent update; rolled back.
//   - *paymentdomain.IllegalTransitionError: committed as illegal_transition,
//     order unchanged. The Result is valid.
func (a *Applier) Apply(ctx context.Context, event *paymentdomain.PaymentEvent) (Result, error) {
	if !event.Handled() {
		return Result{}, paymentdomain.ErrInvalidPayload
	}
	if event.OrderID == "" {
		return Result{}, paymentdomain.ErrMissingOrderReference
	}

	var (
		result    Result
		decideErr error
	)
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := a.orders.FindByIDForUpdate(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrNotFound
		}

		now := a.clock.Now().UTC().Truncate(time.Microsecond)
		decision, err := Decide(*order, event.Kind)
		decideErr = err

		next := *order
		if decision.Mutates() {
			update := orderdomain.OrderStatusUpdate{
				PaymentStatus: decision.PaymentStatus,
				Status:        decision.Status,
				UpdatedAt:     now,
			}
			if setsPaymentID(event.Kind) && order.PaymentID == nil && event.ProviderPaymentID != "" {
				paymentID := event.ProviderPaymentID
				update.PaymentID = &paymentID
			}
			if err := a.orders.UpdateStatus(ctx, tx, order.ID, update, order.Version); err != nil {
				return err
			}
			next.PaymentStatus = update.PaymentStatus
			next.Status = update.Status
			if update.PaymentID != nil {
				next.PaymentID = update.PaymentID
			}
			next.Version = order.Version + 1
			next.UpdatedAt = now
		}

		record := &paymentdomain.LedgerRecord{
			ID:                     a.genID.Generate(),
			Provider:               event.Provider,
			ProviderEventID:        event.ProviderEventID,
			ProviderEventType:      event.ProviderEventType,
			EventKind:              event.Kind,
			OrderID:                order.ID,
			Outcome:                decision.Outcome,
			ResultingPaymentStatus: next.PaymentStatus,
			ResultingStatus:        next.Status,
			Payload:                ledgerPayload(event.RawPayload),
			AppliedAt:              now,
		}
		if err := a.ledger.RecordApplied(ctx, tx, record); err != nil {
			return err
		}

		if decision.Mutates() {
			if err := a.enqueue(ctx, tx, event, *order, next, now); err != nil {
				return err
			}
		}

		result = Result{
			Outcome:  decision.Outcome,
			Previous: *order,
			Order:    next,
			Record:   record,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	a.log.Debug("payment event applied",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("order_id", event.OrderID),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, decideErr
}

func (a *Applier) enqueue(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent, prev, next orderdomain.Order, now time.Time) error {
	body := outboxdomain.PaymentStatusChanged{
		OrderID:               next.ID,
		Provider:              event.Provider,
		ProviderEventID:       event.ProviderEventID,
		EventKind:             string(event.Kind),
		PreviousPaymentStatus: string(prev.PaymentStatus),
		PreviousStatus:        string(prev.Status),
		PaymentStatus:         string(next.PaymentStatus),
		Status:                string(next.Status),
		Version:               next.Version,
		OccurredAt:            event.OccurredAt,
	}
	if next.PaymentID != nil {
		body.PaymentID = *next.PaymentID
	}

	row, err := outboxdomain.NewPaymentStatusChanged(a.genID.Generate(), now, body)
	if err != nil {
		return err
	}
	return a.outbox.Insert(ctx, tx, row)
}

// ledgerPayload keeps the raw body for audit and replay when it is JSON.
func ledgerPayload(raw []byte) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

// IsConflict reports errors that mean another writer got to the order first.
func IsConflict(err error) bool {
	return errors.Is(err, orderdomain.ErrVersionConflict)
}
