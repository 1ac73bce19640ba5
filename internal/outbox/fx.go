package outbox

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"github.com/smallbiznis/storefront/internal/outbox/kafka"
	"github.com/smallbiznis/storefront/internal/outbox/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("outbox",
	fx.Provide(repository.Provide),
	fx.Provide(NewPublisher),
	fx.Provide(NewRelay),
	fx.Invoke(StartRelay),
)

// NewPublisher returns the Kafka producer, or a publisher that refuses all
// messages when no brokers are configured. Rows then stay pending.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) domain.Publisher {
	if !cfg.Outbox.Enabled() {
		return disabledPublisher{}
	}
	producer := kafka.NewProducer(cfg.Outbox.KafkaBrokers, cfg.Outbox.Topic, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return producer.Close()
		},
	})
	return producer
}

func StartRelay(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, relay *Relay) {
	if !cfg.Outbox.Enabled() {
		log.Named("outbox").Info("outbox relay disabled, KAFKA_BROKERS not set")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				relay.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

type disabledPublisher struct{}

func (disabledPublisher) Publish(context.Context, ...domain.Message) error {
	return domain.ErrPublisherClosed
}

func (disabledPublisher) Close() error { return nil }
