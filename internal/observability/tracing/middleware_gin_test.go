package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareTagsWebhookSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/webhooks/:provider", func(c *gin.Context) {
		c.Set(obscontext.KeyProviderEventID, "evt_1")
		c.Set(obscontext.KeyOrderID, "ord_1")
		c.Set(obscontext.KeyReconcileOutcome, "applied")
		c.Status(http.StatusOK)
	})
	r.POST("/fail/:provider", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusServiceUnavailable)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/Stripe", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fail/razorpay", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "HTTP POST /webhooks/:provider", ok.Name())
	attrs := spanAttrs(ok)
	assert.Equal(t, "stripe", attrs["payment.provider"].AsString())
	assert.Equal(t, "evt_1", attrs["payment.provider_event_id"].AsString())
	assert.Equal(t, "ord_1", attrs["order.id"].AsString())
	assert.Equal(t, "applied", attrs["reconcile.outcome"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "razorpay", spanAttrs(failed)["payment.provider"].AsString())
	_, hasOutcome := spanAttrs(failed)["reconcile.outcome"]
	assert.False(t, hasOutcome)
}
