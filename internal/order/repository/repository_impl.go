package repository

import (
	"context"

	"github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, subtotal, tax, shipping, total, currency, status, payment_status,
		payment_id, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.Subtotal,
		order.Tax,
		order.Shipping,
		order.Total,
		order.Currency,
		order.Status,
		order.PaymentStatus,
		order.PaymentID,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	return findOrder(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Order, error) {
	return findOrder(ctx, tx, id, true)
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, update domain.OrderStatusUpdate, expectedVersion int64) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_status = ?, status = ?, payment_id = COALESCE(?, payment_id),
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		update.PaymentStatus,
		update.Status,
		update.PaymentID,
		update.UpdatedAt,
		id,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func findOrder(ctx context.Context, db *gorm.DB, id string, forUpdate bool) (*domain.Order, error) {
	var order domain.Order
	query := `SELECT ` + orderColumns + `
	 FROM orders
	 WHERE id = ?
	 LIMIT 1`
	if forUpdate && db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	err := db.WithContext(ctx).Raw(query, id).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, nil
	}
	return &order, nil
}
