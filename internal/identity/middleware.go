package identity

import (
	"github.com/gin-gonic/gin"

	"orderflow/pkg/errors"
)

const principalKey = "principal"

// Middleware rejects requests whose bearer token the verifier does not
// accept. The resolved principal is stored on the gin context for handlers
// that need the caller identity.
func Middleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(
				errors.ToHTTPStatus(errors.ErrUnauthorized),
				errors.ToErrorResponse(errors.ErrUnauthorized.WithDetail("message", "missing bearer token")),
			)
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext returns the principal set by Middleware, if any.
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
