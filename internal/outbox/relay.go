package outbox

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 512

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Cfg              config.Config
	Repo             domain.Repository
	Publisher        domain.Publisher
	Metrics          *obsmetrics.Metrics          `optional:"true"`
	ReconcileMetrics *obsmetrics.ReconcileMetrics `optional:"true"`
}

// Relay moves committed outbox rows to the broker. Rows stay locked while a
// batch is being published, so several relays can run against one database.
type Relay struct {
	db               *gorm.DB
	log              *zap.Logger
	clock            clock.Clock
	repo             domain.Repository
	publisher        domain.Publisher
	metrics          *obsmetrics.Metrics
	reconcileMetrics *obsmetrics.ReconcileMetrics
	interval         time.Duration
	batchSize        int
}

func NewRelay(p Params) *Relay {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	interval := p.Cfg.Outbox.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batchSize := p.Cfg.Outbox.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		db:               p.DB,
		log:              p.Log.Named("outbox.relay"),
		clock:            c,
		repo:             p.Repo,
		publisher:        p.Publisher,
		metrics:          p.Metrics,
		reconcileMetrics: p.ReconcileMetrics,
		interval:         interval,
		batchSize:        batchSize,
	}
}

// RunOnce publishes at most one batch and returns how many rows were sent.
// A broker failure leaves the rows pending with the error recorded.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var (
		sent       int
		publishErr error
		byType     = map[string]int{}
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := r.repo.ClaimPending(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(events))
		messages := make([]domain.Message, 0, len(events))
		for _, event := range events {
			ids = append(ids, event.ID)
			messages = append(messages, domain.Message{
				Key:     event.OrderID,
				Type:    event.EventType,
				EventID: event.EventID,
				Value:   event.Payload,
			})
		}

		if publishErr = r.publisher.Publish(ctx, messages...); publishErr != nil {
			return r.repo.MarkFailed(ctx, tx, ids, truncate(publishErr.Error(), maxErrorLength))
		}
		if err := r.repo.MarkSent(ctx, tx, ids, r.clock.Now()); err != nil {
			return err
		}

		sent = len(events)
		for _, event := range events {
			byType[event.EventType]++
		}
		return nil
	})
	if err != nil {
		r.reconcileMetrics.IncRelayFailure(err)
		return 0, err
	}
	if publishErr != nil {
		r.reconcileMetrics.IncRelayFailure(publishErr)
		return 0, publishErr
	}

	for eventType, count := range byType {
		r.reconcileMetrics.AddRelayPublished(eventType, count)
		r.metrics.RecordOutboxPublished(ctx, eventType, count)
	}
	return sent, nil
}

// RunForever drains full batches back to back and otherwise polls on the
// configured interval until ctx is cancelled.
func (r *Relay) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			sent, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("outbox relay run failed", zap.Error(err))
				}
				break
			}
			if sent > 0 {
				r.log.Debug("outbox batch published", zap.Int("count", sent))
			}
			if sent < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
