package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"github.com/smallbiznis/storefront/internal/testsupport"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type countingRepo struct {
	claims atomic.Int64
}

func (r *countingRepo) Insert(context.Context, *gorm.DB, *domain.Event) error { return nil }

func (r *countingRepo) ClaimPending(context.Context, *gorm.DB, int) ([]domain.Event, error) {
	r.claims.Add(1)
	return nil, nil
}

func (r *countingRepo) MarkSent(context.Context, *gorm.DB, []snowflake.ID, time.Time) error {
	return nil
}

func (r *countingRepo) MarkFailed(context.Context, *gorm.DB, []snowflake.ID, string) error {
	return nil
}

func TestStartRelayStopsPollingOnLifecycleStop(t *testing.T) {
	db := testsupport.NewDB(t)
	repo := &countingRepo{}
	cfg := config.Config{Outbox: config.OutboxConfig{
		KafkaBrokers: []string{"localhost:9092"},
		PollInterval: 5 * time.Millisecond,
		BatchSize:    10,
	}}
	relay := NewRelay(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clock.SystemClock{},
		Cfg:       cfg,
		Repo:      repo,
		Publisher: &recordingPublisher{},
	})

	lc := fxtest.NewLifecycle(t)
	StartRelay(lc, cfg, zap.NewNop(), relay)
	lc.RequireStart()

	require.Eventually(t, func() bool { return repo.claims.Load() >= 3 }, time.Second, 5*time.Millisecond)

	lc.RequireStop()
	atStop := repo.claims.Load()
	time.Sleep(60 * time.Millisecond)
	if got := repo.claims.Load(); got != atStop {
		t.Fatalf("relay kept polling after stop: %d claims at stop, %d later", atStop, got)
	}
}

func TestStartRelaySkippedWithoutBrokers(t *testing.T) {
	repo := &countingRepo{}
	relay := NewRelay(Params{
		DB:        testsupport.NewDB(t),
		Log:       zap.NewNop(),
		Repo:      repo,
		Publisher: disabledPublisher{},
		Cfg:       config.Config{Outbox: config.OutboxConfig{PollInterval: 5 * time.Millisecond}},
	})

	lc := fxtest.NewLifecycle(t)
	StartRelay(lc, config.Config{}, zap.NewNop(), relay)
	lc.RequireStart()
	time.Sleep(30 * time.Millisecond)
	lc.RequireStop()

	if got := repo.claims.Load(); got != 0 {
		t.Fatalf("expected no relay runs without brokers, got %d", got)
	}
}
