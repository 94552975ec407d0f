package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// RequireScope returns middleware that checks the operator token carries
// scope. ScopeAdmin grants every scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes := GetScopes(c.Request.Context())
		if scopes == nil {
			abortWith(c, apperrors.Forbidden("FORBIDDEN", "no scopes in context"))
			return
		}
		if slices.Contains(scopes, ScopeAdmin) || slices.Contains(scopes, scope) {
			c.Next()
			return
		}
		abortWith(c, apperrors.Forbidden("FORBIDDEN", "insufficient scope").
			WithParams(map[string]interface{}{"required": scope}))
	}
}
