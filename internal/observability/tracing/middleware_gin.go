package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "storefront/http"

// GinMiddleware opens a server span per request. Webhook spans are tagged
// with the provider, the event and order ids, and the reconcile outcome once
// the handler has set them.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		attrs = append(attrs, paymentAttributes(c)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func paymentAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if provider := strings.ToLower(strings.TrimSpace(c.Param("provider"))); provider != "" {
		attrs = append(attrs, attribute.String("payment.provider", provider))
	}
	if eventID := c.GetString(obscontext.KeyProviderEventID); eventID != "" {
		attrs = append(attrs, attribute.String("payment.provider_event_id", eventID))
	}
	if orderID := c.GetString(obscontext.KeyOrderID); orderID != "" {
		attrs = append(attrs, attribute.String("order.id", orderID))
	}
	if outcome := c.GetString(obscontext.KeyReconcileOutcome); outcome != "" {
		attrs = append(attrs, attribute.String("reconcile.outcome", outcome))
	}
	if actor := obscontext.ActorFromContext(c.Request.Context()); actor != "" {
		attrs = append(attrs, attribute.String("actor.role", actor))
	}
	return attrs
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
