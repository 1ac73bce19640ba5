package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// EventTypePaymentStatusChanged is published after every committed transition
// that changed an order's payment state.
const EventTypePaymentStatusChanged = "order.payment_status_changed"

// Event is one row of the order_payment_events outbox.
type Event struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventID   string         `gorm:"type:varchar(26);not null;uniqueIndex" json:"event_id"`
	OrderID   string         `gorm:"not null" json:"order_id"`
	EventType string         `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status    Status         `gorm:"type:varchar(16);not null" json:"status"`
	Attempts  int            `gorm:"not null" json:"attempts"`
	LastError *string        `json:"last_error,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}

func (Event) TableName() string { return "order_payment_events" }

// PaymentStatusChanged is the JSON body of EventTypePaymentStatusChanged.
type PaymentStatusChanged struct {
	EventID               string    `json:"event_id"`
	OrderID               string    `json:"order_id"`
	Provider              string    `json:"provider"`
	ProviderEventID       string    `json:"provider_event_id"`
	EventKind             string    `json:"event_kind"`
	PreviousPaymentStatus string    `json:"previous_payment_status"`
	PreviousStatus        string    `json:"previous_status"`
	PaymentStatus         string    `json:"payment_status"`
	Status                string    `json:"status"`
	PaymentID             string    `json:"payment_id,omitempty"`
	Version               int64     `json:"version"`
	OccurredAt            time.Time `json:"occurred_at"`
}

type Repository interface {
	// Insert must run on the transaction that changed the order.
	Insert(ctx context.Context, tx *gorm.DB, event *Event) error
	// ClaimPending locks up to limit pending rows, oldest first, for the life of tx.
	ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]Event, error)
	MarkSent(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, sentAt time.Time) error
	MarkFailed(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, reason string) error
}

// Message is what the relay hands to the broker.
type Message struct {
	Key     string
	Type    string
	EventID string
	Value   []byte
}

type Publisher interface {
	Publish(ctx context.Context, messages ...Message) error
	Close() error
}

var ErrPublisherClosed = errors.New("outbox_publisher_closed")

// NewPaymentStatusChanged builds a pending outbox row for body. A ULID event
// id is assigned when body has none, so consumers can dedupe and sort.
func NewPaymentStatusChanged(id snowflake.ID, now time.Time, body PaymentStatusChanged) (*Event, error) {
	if body.EventID == "" {
		eventID, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
		if err != nil {
			return nil, err
		}
		body.EventID = eventID.String()
	}
	if body.OccurredAt.IsZero() {
		body.OccurredAt = now
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        id,
		EventID:   body.EventID,
		OrderID:   body.OrderID,
		EventType: EventTypePaymentStatusChanged,
		Payload:   datatypes.JSON(payload),
		Status:    StatusPending,
		CreatedAt: now,
	}, nil
}
