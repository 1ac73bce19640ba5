package webhook_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	outboxrepo "github.com/smallbiznis/storefront/internal/outbox/repository"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/statemachine"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/smallbiznis/storefront/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	stripeSecret   = "whsec_test"
	razorpaySecret = "rzp_test_secret"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	db  *gorm.DB
	svc paymentdomain.WebhookService
}

func newHarness(t *testing.T, ledger func(paymentdomain.LedgerRepository) paymentdomain.LedgerRepository) *harness {
	t.Helper()
	return newHarnessWithSecrets(t, ledger, config.WebhookSecrets{
		Stripe:   config.StripeSecrets{WebhookSecret: stripeSecret, Tolerance: 5 * time.Minute},
		Razorpay: config.RazorpaySecrets{WebhookSecret: razorpaySecret},
	})
}

func newHarnessWithSecrets(t *testing.T, ledger func(paymentdomain.LedgerRepository) paymentdomain.LedgerRepository, webhookSecrets config.WebhookSecrets) *harness {
	t.Helper()

	db := testsupport.NewDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(now)

	var ledgerRepo paymentdomain.LedgerRepository = paymentrepo.Provide()
	if ledger != nil {
		ledgerRepo = ledger(ledgerRepo)
	}

	applier := statemachine.NewApplier(statemachine.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  fakeClock,
		GenID:  node,
		Orders: orderrepo.Provide(),
		Ledger: ledgerRepo,
		Outbox: outboxrepo.Provide(),
	})

	secrets := config.NewStaticSecretsHolder(webhookSecrets)

	svc := webhook.NewService(webhook.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fakeClock,
		Cfg: config.Config{Reconcile: config.ReconcileConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		}},
		Secrets:          secrets,
		Adapters:         adapters.NewRegistry(stripe.NewFactory(), razorpay.NewFactory()),
		Ledger:           ledgerRepo,
		Applier:          applier,
		ReconcileMetrics: obsmetrics.NewReconcileMetrics(prometheus.NewRegistry(), obsmetrics.Config{}),
	})

	return &harness{db: db, svc: svc}
}

func (h *harness) seedOrder(t *testing.T, id string) {
	t.Helper()
	err := orderrepo.Provide().Insert(context.Background(), h.db, &orderdomain.Order{
		ID:            id,
		Subtotal:      decimal.RequireFromString("20.00"),
		Tax:           decimal.Zero,
		Shipping:      decimal.Zero,
		Total:         decimal.RequireFromString("20.00"),
		Currency:      "USD",
		Status:        orderdomain.StatusPending,
		PaymentStatus: orderdomain.PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
}

func (h *harness) order(t *testing.T, id string) orderdomain.Order {
	t.Helper()
	order, err := orderrepo.Provide().FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return *order
}

func stripeBody(eventID, eventType, orderID string) []byte {
	metadata := `{}`
	if orderID != "" {
		metadata = fmt.Sprintf(`{"order_id":%q}`, orderID)
	}
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"created":%d,"data":{"object":{"id":"pi_1","object":"payment_intent","amount":2000,"amount_received":2000,"amount_refunded":2000,"currency":"usd","created":%d,"metadata":%s}}}`,
		eventID, eventType, now.Unix(), now.Unix(), metadata,
	))
}

func stripeHeaders(body []byte) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripe.SignatureHeader(stripeSecret, body, now.Unix()))
	return headers
}

func (h *harness) deliverStripe(t *testing.T, body []byte) paymentdomain.WebhookResult {
	t.Helper()
	result, err := h.svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))
	require.NoError(t, err)
	return result
}

func TestScenarioCaptureRefundLateCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "O1")

	a := stripeBody("E1", "payment_intent.succeeded", "O1")
	result := h.deliverStripe(t, a)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), result.Outcome)
	order := h.order(t, "O1")
	assert.Equal(t, orderdomain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, orderdomain.StatusConfirmed, order.Status)

	result = h.deliverStripe(t, a)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, paymentdomain.ResultDuplicate, result.Outcome)
	assert.Equal(t, order.Version, h.order(t, "O1").Version)

	result = h.deliverStripe(t, stripeBody("E2", "charge.refunded", "O1"))
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	order = h.order(t, "O1")
	assert.Equal(t, orderdomain.PaymentStatusRefunded, order.PaymentStatus)
	assert.Equal(t, orderdomain.StatusRefunded, order.Status)

	result = h.deliverStripe(t, stripeBody("E3", "payment_intent.succeeded", "O1"))
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.True(t, result.Acknowledged)
	assert.Equal(t, string(paymentdomain.OutcomeIllegalTransition), result.Outcome)
	after := h.order(t, "O1")
	assert.Equal(t, orderdomain.PaymentStatusRefunded, after.PaymentStatus)
	assert.Equal(t, order.Version, after.Version)

	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger WHERE order_id = ?`, 3, "O1")
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM order_payment_events WHERE order_id = ?`, 2, "O1")
}

func TestRedeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_once", "payment_intent.succeeded", "ord_1")
	for i := 0; i < 5; i++ {
		result := h.deliverStripe(t, body)
		if result.HTTPStatus != http.StatusOK || !result.Acknowledged {
			t.Fatalf("delivery %d: expected 200 ack, got %+v", i, result)
		}
	}

	assert.Equal(t, int64(2), h.order(t, "ord_1").Version)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 1)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM order_payment_events`, 1)
}

func TestAuthorizeThenCaptureAndOutOfOrder(t *testing.T) {
	t.Run("in order", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedOrder(t, "ord_1")

		h.deliverStripe(t, stripeBody("evt_auth", "payment_intent.amount_capturable_updated", "ord_1"))
		assert.Equal(t, orderdomain.PaymentStatusAuthorized, h.order(t, "ord_1").PaymentStatus)

		h.deliverStripe(t, stripeBody("evt_cap", "payment_intent.succeeded", "ord_1"))
		order := h.order(t, "ord_1")
		assert.Equal(t, orderdomain.PaymentStatusPaid, order.PaymentStatus)
		assert.Equal(t, orderdomain.StatusConfirmed, order.Status)
	})

	t.Run("capture first", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seedOrder(t, "ord_1")

		h.deliverStripe(t, stripeBody("evt_cap", "payment_intent.succeeded", "ord_1"))
		result := h.deliverStripe(t, stripeBody("evt_auth", "payment_intent.amount_capturable_updated", "ord_1"))
		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, string(paymentdomain.OutcomeIllegalTransition), result.Outcome)

		order := h.order(t, "ord_1")
		assert.Equal(t, orderdomain.PaymentStatusPaid, order.PaymentStatus)
		assert.Equal(t, orderdomain.StatusConfirmed, order.Status)
		assert.Equal(t, int64(2), order.Version)
	})
}

func TestTamperedBodyIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_1", "payment_intent.succeeded", "ord_1")
	headers := stripeHeaders(body)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01

		result, err := h.svc.HandleWebhook(context.Background(), "stripe", tampered, headers)
		if !paymentdomain.IsAuthenticationError(err) {
			t.Fatalf("byte %d: expected authentication error, got %v", i, err)
		}
		if result.HTTPStatus != http.StatusUnauthorized || result.Acknowledged {
			t.Fatalf("byte %d: expected 401, got %+v", i, result)
		}
	}

	order := h.order(t, "ord_1")
	assert.Equal(t, orderdomain.PaymentStatusPending, order.PaymentStatus)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 0)
}

func TestMissingOrderReferenceNeverMutates(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_1", "payment_intent.succeeded", "")
	result, err := h.svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))
	if !paymentdomain.IsMalformedPayloadError(err) || !errors.Is(err, paymentdomain.ErrMissingOrderReference) {
		t.Fatalf("expected malformed payload with missing order reference, got %v", err)
	}
	assert.Equal(t, http.StatusBadRequest, result.HTTPStatus)
	assert.Equal(t, int64(1), h.order(t, "ord_1").Version)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 0)
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_1")
	body := stripeBody("evt_race", "payment_intent.succeeded", "ord_1")

	const workers = 4
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		results  = make([]paymentdomain.WebhookResult, workers)
		errs     = make([]error, workers)
		appliedN atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))
			if results[i].Outcome == string(paymentdomain.OutcomeApplied) {
				appliedN.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: unexpected error %v", i, errs[i])
		}
		if results[i].HTTPStatus != http.StatusOK {
			t.Fatalf("worker %d: expected 200, got %d", i, results[i].HTTPStatus)
		}
		if results[i].Outcome != string(paymentdomain.OutcomeApplied) && results[i].Outcome != paymentdomain.ResultDuplicate {
			t.Fatalf("worker %d: expected applied or duplicate, got %q", i, results[i].Outcome)
		}
	}
	assert.Equal(t, int32(1), appliedN.Load())
	assert.Equal(t, int64(2), h.order(t, "ord_1").Version)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 1)
}

// blindLedger never reports an event as applied, so only the unique insert
// inside the apply transaction can catch a redelivery.
type blindLedger struct {
	paymentdomain.LedgerRepository
}

func (blindLedger) HasBeenApplied(context.Context, *gorm.DB, string, string) (bool, error) {
	return false, nil
}

func TestUniqueInsertCatchesDuplicateWithoutPreCheck(t *testing.T) {
	h := newHarness(t, func(inner paymentdomain.LedgerRepository) paymentdomain.LedgerRepository {
		return blindLedger{LedgerRepository: inner}
	})
	h.seedOrder(t, "ord_1")
	body := stripeBody("evt_dup", "payment_intent.succeeded", "ord_1")

	first := h.deliverStripe(t, body)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), first.Outcome)

	second := h.deliverStripe(t, body)
	assert.Equal(t, http.StatusOK, second.HTTPStatus)
	assert.True(t, second.Acknowledged)
	assert.Equal(t, paymentdomain.ResultDuplicate, second.Outcome)

	assert.Equal(t, int64(2), h.order(t, "ord_1").Version)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 1)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM order_payment_events`, 1)
}

func TestUnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)

	result := h.deliverStripe(t, stripeBody("evt_1", "payment_intent.succeeded", "ord_ghost"))
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, paymentdomain.ResultOrderNotFound, result.Outcome)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 0)
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)

	result := h.deliverStripe(t, stripeBody("evt_1", "customer.created", "ord_1"))
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, paymentdomain.ResultUnhandled, result.Outcome)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 0)
}

func TestUnknownProviderAndMissingSecret(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.svc.HandleWebhook(context.Background(), "square", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
	assert.Equal(t, http.StatusNotFound, result.HTTPStatus)

	db := testsupport.NewDB(t)
	svc := webhook.NewService(webhook.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Secrets:  config.NewStaticSecretsHolder(config.WebhookSecrets{}),
		Adapters: adapters.NewRegistry(stripe.NewFactory()),
		Ledger:   paymentrepo.Provide(),
	})
	body := stripeBody("evt_1", "payment_intent.succeeded", "ord_1")
	result, err = svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))
	if !paymentdomain.IsAuthenticationError(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	assert.Equal(t, http.StatusUnauthorized, result.HTTPStatus)
}

func TestRazorpayCapture(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_rzp")

	body := []byte(`{"entity":"event","event":"payment.captured","created_at":1772359200,"payload":{"payment":{"entity":{"id":"pay_1","amount":2000,"currency":"INR","notes":{"order_id":"ord_rzp"},"created_at":1772359200}}}}`)
	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", razorpay.Signature(razorpaySecret, body))
	headers.Set("X-Razorpay-Event-Id", "evt_rzp_1")

	result, err := h.svc.HandleWebhook(context.Background(), "razorpay", body, headers)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, "payment.captured:pay_1", result.ProviderEventID)

	order := h.order(t, "ord_rzp")
	assert.Equal(t, orderdomain.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.PaymentID)
	assert.Equal(t, "pay_1", *order.PaymentID)

	// A fresh delivery header on the same signed body is still a duplicate.
	headers.Set("X-Razorpay-Event-Id", "evt_rzp_2")
	result, err = h.svc.HandleWebhook(context.Background(), "razorpay", body, headers)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ResultDuplicate, result.Outcome)
	testsupport.AssertCount(t, h.db, `SELECT COUNT(1) FROM payment_event_ledger`, 1)
}

func TestReplaySkipsSignature(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_replay", "payment_intent.succeeded", "ord_1")
	result, err := h.svc.Replay(context.Background(), "stripe", body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), result.Outcome)

	result, err = h.svc.Replay(context.Background(), "stripe", body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ResultDuplicate, result.Outcome)
}

func TestReplayWithoutProviderSecrets(t *testing.T) {
	h := newHarnessWithSecrets(t, nil, config.WebhookSecrets{})
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_offline", "payment_intent.succeeded", "ord_1")
	result, err := h.svc.Replay(context.Background(), "stripe", body, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), result.Outcome)
	assert.Equal(t, orderdomain.PaymentStatusPaid, h.order(t, "ord_1").PaymentStatus)

	// Live intake on the same host still fails closed.
	result, err = h.svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))
	if !paymentdomain.IsAuthenticationError(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	assert.Equal(t, http.StatusUnauthorized, result.HTTPStatus)
}

// flakyLedger fails the first failures inserts with a serialization error.
type flakyLedger struct {
	paymentdomain.LedgerRepository
	failures int32
	calls    atomic.Int32
}

func (l *flakyLedger) RecordApplied(ctx context.Context, tx *gorm.DB, record *paymentdomain.LedgerRecord) error {
	if l.calls.Add(1) <= l.failures {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return l.LedgerRepository.RecordApplied(ctx, tx, record)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	flaky := &flakyLedger{failures: 2}
	h := newHarness(t, func(inner paymentdomain.LedgerRepository) paymentdomain.LedgerRepository {
		flaky.LedgerRepository = inner
		return flaky
	})
	h.seedOrder(t, "ord_1")

	result := h.deliverStripe(t, stripeBody("evt_1", "payment_intent.succeeded", "ord_1"))
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), result.Outcome)
	assert.Equal(t, int32(3), flaky.calls.Load())

	// Failed attempts rolled back their order updates.
	assert.Equal(t, int64(2), h.order(t, "ord_1").Version)
}

func TestExhaustedRetriesSurfaceServiceUnavailable(t *testing.T) {
	flaky := &flakyLedger{failures: 100}
	h := newHarness(t, func(inner paymentdomain.LedgerRepository) paymentdomain.LedgerRepository {
		flaky.LedgerRepository = inner
		return flaky
	})
	h.seedOrder(t, "ord_1")

	body := stripeBody("evt_1", "payment_intent.succeeded", "ord_1")
	result, err := h.svc.HandleWebhook(context.Background(), "stripe", body, stripeHeaders(body))

	var transient *paymentdomain.TransientPersistenceError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient persistence error, got %v", err)
	}
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, result.HTTPStatus)
	assert.False(t, result.Acknowledged)
	assert.Equal(t, orderdomain.PaymentStatusPending, h.order(t, "ord_1").PaymentStatus)
}
