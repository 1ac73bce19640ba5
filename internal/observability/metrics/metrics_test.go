package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("order_id", "ord_123"),
		attribute.String("outcome", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "provider" && attrs[1].Key != "provider" {
		t.Fatalf("expected provider to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookOutcome(context.Background(), "stripe", "CAPTURED", "applied")
	m.RecordOutboxPublished(context.Background(), "order.payment_status_changed", 1)
	m.RecordRateLimitDenied(context.Background(), "stripe", "exhausted")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "storefront-test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordWebhookOutcome(context.Background(), "razorpay", "FAILED", "illegal_transition")
	m.RecordRateLimitAllowed(context.Background(), "razorpay")
}
