package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/common"
)

const (
	IdentityKey = "identity"

	HeaderAnonymousToken = "X-Anonymous-Token"
)

// OptionalIdentity resolves the bearer, if any. Callers without a valid
// bearer continue as anonymous.
func OptionalIdentity(r *chat.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := auth.BearerFromHeader(c.GetHeader("Authorization"))
		c.Set(IdentityKey, r.Resolve(c.Request.Context(), bearer))
		c.Next()
	}
}

// AuthRequired rejects callers that are not authenticated.
func AuthRequired(r *chat.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := auth.BearerFromHeader(c.GetHeader("Authorization"))
		id := r.Resolve(c.Request.Context(), bearer)
		if !id.Authenticated() {
			common.FailErr(c, apierr.ErrUnauthorized)
			return
		}
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) chat.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return chat.Identity{}
	}
	id, _ := v.(chat.Identity)
	return id
}

func AnonymousToken(c *gin.Context) string {
	return c.GetHeader(HeaderAnonymousToken)
}
