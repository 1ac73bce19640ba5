package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/auth/tokenhash"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
)

const contextKeyActorRole = "actor_role"

// AdminAuthRequired resolves the bearer token to an operator role.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		role, ok := s.roleForToken(token)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextKeyActorRole, role)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), role))
		c.Next()
	}
}

// roleForToken compares every configured plain token so lookup time does not
// depend on which one matched, then falls back to the hashed tokens.
func (s *Server) roleForToken(token string) (string, bool) {
	var (
		role  string
		found bool
	)
	for candidate, candidateRole := range s.cfg.AdminTokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			role = candidateRole
			found = true
		}
	}
	if found {
		return role, true
	}

	for _, entry := range s.cfg.AdminTokenHashes {
		if tokenhash.Verify(token, entry.Hash) {
			return entry.Role, true
		}
	}
	return "", false
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
