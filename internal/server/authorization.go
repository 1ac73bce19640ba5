package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) authorizeAction(c *gin.Context, object string, action string) error {
	if s.authzSvc == nil {
		return ErrForbidden
	}
	role := strings.TrimSpace(c.GetString(contextKeyActorRole))
	if role == "" {
		return ErrUnauthorized
	}
	return s.authzSvc.Authorize(c.Request.Context(), role, object, action)
}
