package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type repo struct{}

func Provide() domain.LedgerRepository {
	return &repo{}
}

func (r *repo) HasBeenApplied(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_event_ledger
		 WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordApplied relies on the (provider, provider_event_id) unique index.
// A conflicting insert affects no rows and is reported as a duplicate so the
// caller rolls back whatever else the transaction did.
func (r *repo) RecordApplied(ctx context.Context, tx *gorm.DB, record *domain.LedgerRecord) error {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return domain.ErrDuplicateEvent
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (*domain.LedgerRecord, error) {
	var item domain.LedgerRecord
	err := conn.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// List returns up to PageSize+1 records, newest first, so the caller can
// tell whether another page exists.
func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListLedgerFilter) ([]*domain.LedgerRecord, error) {
	pageSize := pagination.Clamp(filter.PageSize, defaultPageSize, maxPageSize)

	stmt := conn.WithContext(ctx).Model(&domain.LedgerRecord{})
	if filter.OrderID != "" {
		stmt = stmt.Where("order_id = ?", filter.OrderID)
	}
	if filter.Provider != "" {
		stmt = stmt.Where("provider = ?", filter.Provider)
	}
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeCursor(filter.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		appliedAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		stmt = stmt.Where("((applied_at < ?) OR (applied_at = ? AND id < ?))", appliedAt, appliedAt, id)
	}

	var items []*domain.LedgerRecord
	err := stmt.
		Order("applied_at desc, id desc").
		Limit(pageSize + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CursorFor returns the page token that resumes a List after record.
func CursorFor(record *domain.LedgerRecord) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        strconv.FormatInt(record.ID.Int64(), 10),
		CreatedAt: record.AppliedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}
