package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.LedgerRepository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.LedgerRepository
}

func NewService(p Params) domain.LedgerService {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("payment.ledger"),
		repo: p.Repo,
	}
}

func (s *Service) GetEvent(ctx context.Context, provider, providerEventID string) (domain.LedgerRecord, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerEventID = strings.TrimSpace(providerEventID)
	if provider == "" {
		return domain.LedgerRecord{}, domain.ErrProviderNotFound
	}
	if providerEventID == "" {
		return domain.LedgerRecord{}, domain.ErrInvalidEventID
	}

	item, err := s.repo.Find(ctx, s.db, provider, providerEventID)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	if item == nil {
		return domain.LedgerRecord{}, domain.ErrEventNotFound
	}
	return *item, nil
}

func (s *Service) ListEvents(ctx context.Context, filter domain.ListLedgerFilter) (domain.ListLedgerResponse, error) {
	filter.OrderID = strings.TrimSpace(filter.OrderID)
	filter.Provider = strings.ToLower(strings.TrimSpace(filter.Provider))
	filter.PageSize = pagination.Clamp(filter.PageSize, defaultPageSize, maxPageSize)

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListLedgerResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, filter.PageSize, repository.CursorFor)
	if len(items) > filter.PageSize {
		items = items[:filter.PageSize]
	}

	resp := domain.ListLedgerResponse{Records: items}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
