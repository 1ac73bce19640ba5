package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Order, error)
	// FindByIDForUpdate locks the order row until tx ends.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Order, error)
	// UpdateStatus writes the update only when the stored version still equals
	// expectedVersion, bumping it by one. Returns ErrVersionConflict otherwise.
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, update OrderStatusUpdate, expectedVersion int64) error
}
