package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, event *domain.Event) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO order_payment_events (id, event_id, order_id, event_type, payload, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.EventID,
		event.OrderID,
		event.EventType,
		event.Payload,
		event.Status,
		event.Attempts,
		event.CreatedAt,
	).Error
}

func (r *repo) ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]domain.Event, error) {
	query := `SELECT id, event_id, order_id, event_type, payload, status, attempts, last_error, created_at, sent_at
		 FROM order_payment_events
		 WHERE status = ?
		 ORDER BY created_at, id
		 LIMIT ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var events []domain.Event
	err := tx.WithContext(ctx).Raw(query, domain.StatusPending, limit).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkSent(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE order_payment_events
		 SET status = ?, sent_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id IN ? AND status = ?`,
		domain.StatusSent,
		sentAt,
		ids,
		domain.StatusPending,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE order_payment_events
		 SET attempts = attempts + 1, last_error = ?
		 WHERE id IN ? AND status = ?`,
		reason,
		ids,
		domain.StatusPending,
	).Error
}
