package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"go.uber.org/zap"
)

// Producer publishes outbox messages to a single topic. Messages are keyed
// by order id so per-order ordering holds within a partition.
type Producer struct {
	writer *kafka.Writer
	log    *zap.Logger
	closed atomic.Bool
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("outbox.kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(log.Sugar().Debugf),
		ErrorLogger:  kafka.LoggerFunc(log.Sugar().Warnf),
	}

	log.Info("kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{writer: writer, log: log}
}

func (p *Producer) Publish(ctx context.Context, messages ...domain.Message) error {
	if p.closed.Load() {
		return domain.ErrPublisherClosed
	}
	if len(messages) == 0 {
		return nil
	}

	out := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, kafka.Message{
			Key:   []byte(m.Key),
			Value: m.Value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(m.Type)},
				{Key: "event_id", Value: []byte(m.EventID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(out), err)
	}
	p.log.Debug("published outbox messages", zap.Int("count", len(out)))
	return nil
}

func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	p.log.Info("kafka producer closed")
	return nil
}
