package metrics

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RetryReasonSerializationFailure = "serialization_failure"
	RetryReasonDeadlock             = "deadlock"
	RetryReasonLockTimeout          = "db_lock_timeout"
	RetryReasonBusy                 = "db_busy"
	RetryReasonBadConn              = "bad_conn"
	RetryReasonVersionConflict      = "version_conflict"
	RetryReasonDeadlineExceeded     = "deadline_exceeded"
	RetryReasonUnknown              = "unknown"
)

// ReconcileMetrics captures webhook reconciliation health for alerting.
type ReconcileMetrics struct {
	outcomes       *prometheus.CounterVec
	applyDuration  *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	relayPublished *prometheus.CounterVec
	relayFailures  *prometheus.CounterVec
	outcomeCounts  map[string]map[string]prometheus.Counter
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton reconcile metrics registry.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the singleton reconcile metrics registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

// NewReconcileMetrics registers a fresh set of collectors on registerer.
func NewReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	return newReconcileMetrics(registerer, cfg)
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storefront"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_reconcile_outcomes_total",
		Help:        "Payment webhook reconciliation outcomes by provider.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	applyDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "storefront_reconcile_apply_duration_seconds",
		Help:        "Latency of the order transition transaction including retries.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"provider"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_reconcile_retries_total",
		Help:        "Retried order transition attempts by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"provider", "reason"})
	relayPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_outbox_relay_published_total",
		Help:        "Outbox rows published to the broker.",
		ConstLabels: constLabels,
	}, []string{"event_type"})
	relayFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storefront_outbox_relay_failures_total",
		Help:        "Outbox relay batches that failed to publish.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	registerer.MustRegister(outcomes, applyDuration, retries, relayPublished, relayFailures)

	outcomeCounts := map[string]map[string]prometheus.Counter{}
	for _, provider := range []string{"stripe", "razorpay", "paypal"} {
		counters := map[string]prometheus.Counter{}
		for _, outcome := range []string{"applied", "noop", "duplicate", "illegal_transition", "unhandled", "order_not_found", "rejected", "transient_failure"} {
			counters[outcome] = outcomes.WithLabelValues(provider, outcome)
		}
		outcomeCounts[provider] = counters
	}

	return &ReconcileMetrics{
		outcomes:       outcomes,
		applyDuration:  applyDuration,
		retries:        retries,
		relayPublished: relayPublished,
		relayFailures:  relayFailures,
		outcomeCounts:  outcomeCounts,
	}
}

// IncOutcome counts one terminal reconciliation outcome.
func (m *ReconcileMetrics) IncOutcome(provider, outcome string) {
	if m == nil {
		return
	}
	if counters, ok := m.outcomeCounts[provider]; ok {
		if counter, ok := counters[outcome]; ok {
			counter.Inc()
			return
		}
	}
	m.outcomes.WithLabelValues(provider, outcome).Inc()
}

// ObserveApplyDuration records how long the transition transaction took.
func (m *ReconcileMetrics) ObserveApplyDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncRetry counts one retried apply attempt.
func (m *ReconcileMetrics) IncRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider, reason).Inc()
}

// AddRelayPublished counts outbox rows handed to the broker.
func (m *ReconcileMetrics) AddRelayPublished(eventType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.relayPublished.WithLabelValues(eventType).Add(float64(count))
}

// IncRelayFailure counts a failed relay batch.
func (m *ReconcileMetrics) IncRelayFailure(err error) {
	if m == nil || err == nil {
		return
	}
	m.relayFailures.WithLabelValues(ClassifyRetryReason(err)).Inc()
}

// ClassifyRetryReason maps a transient persistence error to a low-cardinality reason.
func ClassifyRetryReason(err error) string {
	if err == nil {
		return RetryReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return RetryReasonDeadlineExceeded
	}
	if errors.Is(err, driver.ErrBadConn) {
		return RetryReasonBadConn
	}
	switch {
	case hasPGCode(err, "40001"):
		return RetryReasonSerializationFailure
	case hasPGCode(err, "40P01"):
		return RetryReasonDeadlock
	case hasPGCode(err, "55P03"):
		return RetryReasonLockTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return RetryReasonBusy
	}
	return RetryReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
