package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		clock: c,
		repo:  p.Repo,
	}
}

// Create stores a pending order the way checkout would.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return domain.Order{}, domain.ErrInvalidID
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Order{}, domain.ErrInvalidCurrency
	}

	if req.Subtotal.IsNegative() || req.Tax.IsNegative() || req.Shipping.IsNegative() {
		return domain.Order{}, domain.ErrInvalidAmount
	}
	total := req.Subtotal.Add(req.Tax).Add(req.Shipping)
	if !total.IsPositive() {
		return domain.Order{}, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:            id,
		Subtotal:      req.Subtotal,
		Tax:           req.Tax,
		Shipping:      req.Shipping,
		Total:         total,
		Currency:      currency,
		Status:        domain.StatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &order); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Order{}, domain.ErrAlreadyExists
		}
		return domain.Order{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("currency", order.Currency),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Order{}, err
	}
	if item == nil {
		return domain.Order{}, domain.ErrNotFound
	}

	return *item, nil
}
