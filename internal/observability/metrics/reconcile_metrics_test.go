package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyRetryReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: RetryReasonDeadlineExceeded},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: RetryReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: RetryReasonDeadlock},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: RetryReasonLockTimeout},
		{name: "sqlite_busy", err: errors.New("database is locked"), want: RetryReasonBusy},
		{name: "unknown", err: errors.New("boom"), want: RetryReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRetryReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIncOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newReconcileMetrics(registry, Config{
		ServiceName: "storefront",
		Environment: "test",
	})

	metrics.IncOutcome("stripe", "applied")
	metrics.IncOutcome("stripe", "applied")
	metrics.IncOutcome("adyen", "rejected")

	if got := testutil.ToFloat64(metrics.outcomes.WithLabelValues("stripe", "applied")); got != 2 {
		t.Fatalf("expected applied count 2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.outcomes.WithLabelValues("adyen", "rejected")); got != 1 {
		t.Fatalf("expected rejected count 1, got %v", got)
	}
}

func TestAddRelayPublished(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newReconcileMetrics(registry, Config{})

	metrics.AddRelayPublished("order.payment_status_changed", 3)
	metrics.AddRelayPublished("order.payment_status_changed", 0)

	got := testutil.ToFloat64(metrics.relayPublished.WithLabelValues("order.payment_status_changed"))
	if got != 3 {
		t.Fatalf("expected published count 3, got %v", got)
	}
}
