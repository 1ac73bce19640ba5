package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLedgerServiceGetAndList(t *testing.T) {
	ctx := context.Background()
	db := testsupport.NewDB(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordApplied(ctx, db, &domain.LedgerRecord{
			ID:                     node.Generate(),
			Provider:               "razorpay",
			ProviderEventID:        fmt.Sprintf("evt_%d", i),
			ProviderEventType:      "payment.captured",
			EventKind:              domain.EventKindCaptured,
			OrderID:                "ord_7",
			Outcome:                domain.OutcomeApplied,
			ResultingPaymentStatus: orderdomain.PaymentStatusPaid,
			ResultingStatus:        orderdomain.StatusConfirmed,
			AppliedAt:              base.Add(time.Duration(i) * time.Second),
		}))
	}

	svc := service.NewService(service.Params{DB: db, Log: zap.NewNop(), Repo: repo})

	record, err := svc.GetEvent(ctx, " RazorPay ", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "ord_7", record.OrderID)

	_, err = svc.GetEvent(ctx, "razorpay", "evt_404")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	_, err = svc.GetEvent(ctx, "razorpay", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidEventID)

	first, err := svc.ListEvents(ctx, domain.ListLedgerFilter{OrderID: "ord_7", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "evt_2", first.Records[0].ProviderEventID)

	second, err := svc.ListEvents(ctx, domain.ListLedgerFilter{OrderID: "ord_7", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextPageToken)
	assert.Equal(t, "evt_0", second.Records[0].ProviderEventID)
}

func TestLedgerServiceInvalidToken(t *testing.T) {
	db := testsupport.NewDB(t)
	svc := service.NewService(service.Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})

	_, err := svc.ListEvents(context.Background(), domain.ListLedgerFilter{PageToken: "%%%"})
	if !errors.Is(err, domain.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}
