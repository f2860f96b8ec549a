package http

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

const identityKey = "identity"

// BearerAuth resolves "Authorization: Bearer <token>" through the identity
// service. The role is taken from X-User-Role.
func BearerAuth(verifier core.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			fail(c, domain.ErrAuth.Errorf("missing bearer token"))
			c.Abort()
			return
		}
		id, err := verifier.VerifyToken(c.Request.Context(), strings.TrimSpace(token), c.GetHeader("X-User-Role"))
		if err != nil {
			fail(c, domain.Dependency("verify token", err))
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*domain.Identity)
	return id
}
