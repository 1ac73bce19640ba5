package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/authorization"
)

func (s *Server) GetOrderByID(c *gin.Context) {
	if err := s.authorizeAction(c, authorization.ObjectOrder, authorization.ActionOrderView); err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}
