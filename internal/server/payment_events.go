package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/authorization"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

func (s *Server) GetPaymentEvent(c *gin.Context) {
	if err := s.authorizeAction(c, authorization.ObjectLedger, authorization.ActionLedgerView); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.ledgerSvc.GetEvent(c.Request.Context(), c.Param("provider"), c.Param("eventId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ListPaymentEvents(c *gin.Context) {
	if err := s.authorizeAction(c, authorization.ObjectLedger, authorization.ActionLedgerView); err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		pagination.Pagination
		OrderID  string `form:"order_id"`
		Provider string `form:"provider"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEvents(c.Request.Context(), paymentdomain.ListLedgerFilter{
		OrderID:   strings.TrimSpace(query.OrderID),
		Provider:  strings.TrimSpace(query.Provider),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
