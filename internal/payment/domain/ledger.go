package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome is what applying an event did to its order.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeNoop              Outcome = "noop"
	OutcomeIllegalTransition Outcome = "illegal_transition"
)

// LedgerRecord is the append-only proof that a provider event was consumed.
type LedgerRecord struct {
	ID                     snowflake.ID              `json:"id" gorm:"primaryKey"`
	Provider               string                    `json:"provider" gorm:"type:text;not null"`
	ProviderEventID        string                    `json:"provider_event_id" gorm:"type:text;not null"`
	ProviderEventType      string                    `json:"provider_event_type" gorm:"type:text;not null"`
	EventKind              EventKind                 `json:"event_kind" gorm:"type:text;not null"`
	OrderID                string                    `json:"order_id" gorm:"type:text;not null;index"`
	Outcome                Outcome                   `json:"outcome" gorm:"type:text;not null"`
	ResultingPaymentStatus orderdomain.PaymentStatus `json:"resulting_payment_status" gorm:"type:text;not null"`
	ResultingStatus        orderdomain.Status        `json:"resulting_status" gorm:"type:text;not null"`
	Payload                datatypes.JSON            `json:"payload,omitempty" gorm:"type:jsonb"`
	AppliedAt              time.Time                 `json:"applied_at" gorm:"not null"`
}

func (LedgerRecord) TableName() string { return "payment_event_ledger" }

type ListLedgerFilter struct {
	OrderID   string
	Provider  string
	PageToken string
	PageSize  int
}

type LedgerRepository interface {
	// HasBeenApplied is an advisory pre-check; the unique insert in
	// RecordApplied is what actually rejects duplicates.
	HasBeenApplied(ctx context.Context, db *gorm.DB, provider, providerEventID string) (bool, error)
	// RecordApplied returns ErrDuplicateEvent when the pair already exists.
	RecordApplied(ctx context.Context, tx *gorm.DB, record *LedgerRecord) error
	Find(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*LedgerRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListLedgerFilter) ([]*LedgerRecord, error)
}
