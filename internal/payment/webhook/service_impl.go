package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/statemachine"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Cfg              config.Config
	Secrets          *config.SecretsHolder
	Adapters         *adapters.Registry
	Ledger           paymentdomain.LedgerRepository
	Applier          *statemachine.Applier
	Metrics          *obsmetrics.Metrics          `optional:"true"`
	ReconcileMetrics *obsmetrics.ReconcileMetrics `optional:"true"`
}

// Service is the reconciliation dispatcher: verify, normalize, dedupe and
// apply, each step ending the delivery with a terminal answer on failure.
type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	clock            clock.Clock
	secrets          *config.SecretsHolder
	adapters         *adapters.Registry
	ledger           paymentdomain.LedgerRepository
	applier          *statemachine.Applier
	metrics          *obsmetrics.Metrics
	reconcileMetrics *obsmetrics.ReconcileMetrics
	retry            config.ReconcileConfig
}

func NewService(p Params) paymentdomain.WebhookService {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	retry := p.Cfg.Reconcile
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 50 * time.Millisecond
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = 10 * retry.InitialInterval
	}

	return &Service{
		db:               p.DB,
		log:              p.Log.Named("payment.webhook"),
		clock:            c,
		secrets:          p.Secrets,
		adapters:         p.Adapters,
		ledger:           p.Ledger,
		applier:          p.Applier,
		metrics:          p.Metrics,
		reconcileMetrics: p.ReconcileMetrics,
		retry:            retry,
	}
}

func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.WebhookResult, error) {
	return s.handle(ctx, provider, payload, headers, true)
}

func (s *Service) Replay(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.WebhookResult, error) {
	return s.handle(ctx, provider, payload, headers, false)
}

func (s *Service) handle(ctx context.Context, provider string, payload []byte, headers http.Header, verify bool) (paymentdomain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	ctx = obscontext.WithProvider(ctx, provider)
	log := logger.WithContext(ctx, s.log)
	result := paymentdomain.WebhookResult{Provider: provider}

	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		result.HTTPStatus = http.StatusNotFound
		result.Outcome = paymentdomain.ResultRejected
		log.Warn("webhook for unknown provider")
		return result, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapterFor(provider, !verify)
	if err != nil {
		// A provider without credentials cannot authenticate anything.
		log.Error("webhook provider not configured", zap.Error(err))
		return s.reject(ctx, result, http.StatusUnauthorized, &paymentdomain.AuthenticationError{Provider: provider, Err: err})
	}

	if verify {
		if err := adapter.Verify(ctx, payload, headers); err != nil {
			log.Warn("webhook signature rejected", zap.Error(err))
			return s.reject(ctx, result, http.StatusUnauthorized, &paymentdomain.AuthenticationError{Provider: provider, Err: err})
		}
	}

	event, err := adapter.Parse(ctx, payload, headers)
	if err != nil {
		log.Warn("webhook payload rejected for manual review",
			zap.Error(err),
			zap.Int("payload_bytes", len(payload)),
		)
		return s.reject(ctx, result, http.StatusBadRequest, &paymentdomain.MalformedPayloadError{Provider: provider, Err: err})
	}
	event.Provider = provider
	event.ReceivedAt = s.clock.Now()
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	result.ProviderEventID = event.ProviderEventID
	result.OrderID = event.OrderID
	ctx = obscontext.WithPaymentEvent(ctx, event.ProviderEventID, event.OrderID)
	log = logger.WithContext(ctx, s.log)

	if !event.Handled() {
		log.Info("webhook event type not handled", zap.String("provider_event_type", event.ProviderEventType))
		return s.acknowledge(ctx, log, result, event, paymentdomain.ResultUnhandled), nil
	}

	applied, err := s.ledger.HasBeenApplied(ctx, s.db, provider, event.ProviderEventID)
	if err != nil {
		log.Warn("ledger pre-check failed, relying on unique insert", zap.Error(err))
	}
	if applied {
		return s.acknowledge(ctx, log, result, event, paymentdomain.ResultDuplicate), nil
	}

	started := time.Now()
	applyResult, err := s.applyWithRetry(ctx, log, event)
	s.reconcileMetrics.ObserveApplyDuration(provider, time.Since(started))

	switch {
	case err == nil:
		result.PaymentStatus = string(applyResult.Order.PaymentStatus)
		result.Status = string(applyResult.Order.Status)
		if event.Kind == paymentdomain.EventKindDisputed {
			log.Warn("payment disputed, order left unchanged")
		}
		return s.acknowledge(ctx, log, result, event, string(applyResult.Outcome)), nil
	case paymentdomain.IsIllegalTransition(err):
		result.PaymentStatus = string(applyResult.Order.PaymentStatus)
		result.Status = string(applyResult.Order.Status)
		log.Warn("illegal payment transition rejected", zap.Error(err))
		return s.acknowledge(ctx, log, result, event, string(paymentdomain.OutcomeIllegalTransition)), nil
	case errors.Is(err, paymentdomain.ErrDuplicateEvent):
		return s.acknowledge(ctx, log, result, event, paymentdomain.ResultDuplicate), nil
	case errors.Is(err, orderdomain.ErrNotFound):
		log.Warn("integrity: payment event references unknown order")
		return s.acknowledge(ctx, log, result, event, paymentdomain.ResultOrderNotFound), nil
	case paymentdomain.IsTransientPersistenceError(err):
		log.Error("payment event not applied, provider will redeliver", zap.Error(err))
		return s.reject(ctx, result, http.StatusServiceUnavailable, err)
	default:
		log.Error("payment event apply failed", zap.Error(err))
		return s.reject(ctx, result, http.StatusInternalServerError, err)
	}
}

func (s *Service) adapterFor(provider string, parseOnly bool) (paymentdomain.PaymentAdapter, error) {
	var cfg map[string]any
	if s.secrets != nil {
		cfg = s.secrets.Get().AdapterConfig(provider)
	}
	return s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider:  provider,
		Config:    cfg,
		Clock:     s.clock,
		ParseOnly: parseOnly,
	})
}

// applyWithRetry retries transient database failures and lost version races.
// Every attempt re-reads the order, so a retried event is decided against
// the state the winner left behind.
func (s *Service) applyWithRetry(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent) (statemachine.Result, error) {
	var (
		attempts int
		lastErr  error
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval

	operation := func() (statemachine.Result, error) {
		attempts++
		res, err := s.applier.Apply(ctx, event)
		lastErr = err
		if err == nil || !isRetryable(err) {
			if err != nil {
				return res, backoff.Permanent(err)
			}
			return res, nil
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		reason := obsmetrics.ClassifyRetryReason(err)
		if statemachine.IsConflict(err) {
			reason = obsmetrics.RetryReasonVersionConflict
		}
		s.reconcileMetrics.IncRetry(event.Provider, reason)
		log.Info("retrying payment event apply",
			zap.Int("attempt", attempts),
			zap.String("reason", reason),
			zap.Duration("wait", wait),
		)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if paymentdomain.IsIllegalTransition(lastErr) {
		return res, lastErr
	}
	if isRetryable(lastErr) || errors.Is(err, context.DeadlineExceeded) {
		return statemachine.Result{}, &paymentdomain.TransientPersistenceError{Attempts: attempts, Err: lastErr}
	}
	return statemachine.Result{}, lastErr
}

func isRetryable(err error) bool {
	return statemachine.IsConflict(err) || db.IsRetryable(err)
}

func (s *Service) acknowledge(ctx context.Context, log *zap.Logger, result paymentdomain.WebhookResult, event *paymentdomain.PaymentEvent, outcome string) paymentdomain.WebhookResult {
	result.Acknowledged = true
	result.HTTPStatus = http.StatusOK
	result.Outcome = outcome
	s.record(ctx, result, event)

	log.Info("payment webhook reconciled",
		zap.String("outcome", outcome),
		zap.String("event_kind", string(event.Kind)),
		zap.String("payment_status", result.PaymentStatus),
		zap.String("status", result.Status),
	)
	return result
}

func (s *Service) reject(ctx context.Context, result paymentdomain.WebhookResult, status int, err error) (paymentdomain.WebhookResult, error) {
	result.Acknowledged = false
	result.HTTPStatus = status
	result.Outcome = paymentdomain.ResultRejected
	if status >= http.StatusInternalServerError {
		result.Outcome = paymentdomain.ResultTransientFailure
	}
	s.record(ctx, result, nil)
	return result, err
}

func (s *Service) record(ctx context.Context, result paymentdomain.WebhookResult, event *paymentdomain.PaymentEvent) {
	kind := ""
	if event != nil {
		kind = string(event.Kind)
	}
	s.reconcileMetrics.IncOutcome(result.Provider, result.Outcome)
	s.metrics.RecordWebhookOutcome(ctx, result.Provider, kind, result.Outcome)
}
