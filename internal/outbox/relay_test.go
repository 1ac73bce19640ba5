package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/outbox/domain"
	"github.com/smallbiznis/storefront/internal/outbox/repository"
	"github.com/smallbiznis/storefront/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	messages []domain.Message
}

func (p *recordingPublisher) Publish(_ context.Context, messages ...domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func seedEvents(t *testing.T, db *gorm.DB, now time.Time, orderIDs ...string) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	for i, orderID := range orderIDs {
		event, err := domain.NewPaymentStatusChanged(node.Generate(), now.Add(time.Duration(i)*time.Millisecond), domain.PaymentStatusChanged{
			OrderID:       orderID,
			Provider:      "stripe",
			EventKind:     "CAPTURED",
			PaymentStatus: "PAID",
			Status:        "CONFIRMED",
		})
		require.NoError(t, err)
		require.NoError(t, repo.Insert(context.Background(), db, event))
	}
}

func newRelay(t *testing.T, db *gorm.DB, publisher domain.Publisher, c clock.Clock, batchSize int) (*Relay, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	reconcileMetrics := obsmetrics.NewReconcileMetrics(registry, obsmetrics.Config{})
	relay := NewRelay(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: c,
		Cfg: config.Config{Outbox: config.OutboxConfig{
			BatchSize:    batchSize,
			PollInterval: time.Second,
		}},
		Repo:             repository.Provide(),
		Publisher:        publisher,
		ReconcileMetrics: reconcileMetrics,
	})
	return relay, registry
}

func TestRelayPublishesPendingInOrder(t *testing.T) {
	db := testsupport.NewDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedEvents(t, db, now, "ord_1", "ord_2", "ord_3")

	publisher := &recordingPublisher{}
	relay, registry := newRelay(t, db, publisher, clock.NewFakeClock(now.Add(time.Minute)), 2)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	require.Len(t, publisher.messages, 3)
	for i, want := range []string{"ord_1", "ord_2", "ord_3"} {
		msg := publisher.messages[i]
		assert.Equal(t, want, msg.Key)
		assert.Equal(t, domain.EventTypePaymentStatusChanged, msg.Type)
		assert.Len(t, msg.EventID, 26)

		var body domain.PaymentStatusChanged
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		assert.Equal(t, want, body.OrderID)
		assert.Equal(t, msg.EventID, body.EventID)
	}

	testsupport.AssertCount(t, db, `SELECT COUNT(1) FROM order_payment_events WHERE status = ?`, 3, string(domain.StatusSent))

	expected := `
# HELP storefront_outbox_relay_published_total Outbox rows published to the broker.
# TYPE storefront_outbox_relay_published_total counter
storefront_outbox_relay_published_total{env="unknown",event_type="order.payment_status_changed",service="storefront"} 3
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "storefront_outbox_relay_published_total"); err != nil {
		t.Fatalf("unexpected relay metrics: %v", err)
	}
}

func TestRelayKeepsRowsPendingOnPublishFailure(t *testing.T) {
	db := testsupport.NewDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedEvents(t, db, now, "ord_1")

	publisher := &recordingPublisher{err: errors.New("broker unavailable")}
	relay, _ := newRelay(t, db, publisher, clock.NewFakeClock(now), 10)

	_, err := relay.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected publish error")
	}

	var row struct {
		Status    string
		Attempts  int
		LastError string
	}
	require.NoError(t, db.Raw(`SELECT status, attempts, last_error FROM order_payment_events`).Scan(&row).Error)
	assert.Equal(t, string(domain.StatusPending), row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, "broker unavailable", row.LastError)

	publisher.err = nil
	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	testsupport.AssertCount(t, db, `SELECT COUNT(1) FROM order_payment_events WHERE status = ? AND last_error IS NULL`, 1, string(domain.StatusSent))
}

func TestDisabledPublisherRefuses(t *testing.T) {
	err := disabledPublisher{}.Publish(context.Background(), domain.Message{Key: "k"})
	if !errors.Is(err, domain.ErrPublisherClosed) {
		t.Fatalf("expected closed publisher error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
}
