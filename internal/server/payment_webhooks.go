package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/authorization"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const defaultWebhookMaxBodyBytes int64 = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := s.readWebhookBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.webhookSvc.HandleWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		abortWithWebhookResult(c, result, err)
		return
	}
	tagWebhookResult(c, result)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ReplayPaymentWebhook pushes an operator-captured body through
// reconciliation without a provider signature.
func (s *Server) ReplayPaymentWebhook(c *gin.Context) {
	if err := s.authorizeAction(c, authorization.ObjectWebhook, authorization.ActionWebhookReplay); err != nil {
		AbortWithError(c, err)
		return
	}

	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := s.readWebhookBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	headers := c.Request.Header.Clone()
	headers.Del("Authorization")

	result, err := s.webhookSvc.Replay(c.Request.Context(), provider, payload, headers)
	if err != nil {
		abortWithWebhookResult(c, result, err)
		return
	}
	tagWebhookResult(c, result)

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) readWebhookBody(c *gin.Context) ([]byte, error) {
	limit := s.cfg.Webhooks.MaxBodyBytes
	if limit <= 0 {
		limit = defaultWebhookMaxBodyBytes
	}
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, invalidRequestError()
	}
	return payload, nil
}

// abortWithWebhookResult answers with the status the dispatcher decided on.
func abortWithWebhookResult(c *gin.Context, result paymentdomain.WebhookResult, err error) {
	tagWebhookResult(c, result)
	_ = c.Error(err)
	status, body := mapError(err)
	if result.HTTPStatus != 0 {
		status = result.HTTPStatus
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

// tagWebhookResult exposes the outcome to the request log and trace span.
func tagWebhookResult(c *gin.Context, result paymentdomain.WebhookResult) {
	if result.Outcome != "" {
		c.Set(obscontext.KeyReconcileOutcome, result.Outcome)
	}
	if result.ProviderEventID != "" {
		c.Set(obscontext.KeyProviderEventID, result.ProviderEventID)
	}
	if result.OrderID != "" {
		c.Set(obscontext.KeyOrderID, result.OrderID)
	}
}
