package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

// RequireRoles admits only principals holding one of roles. Services still
// apply their own scope rules; this is the coarse route gate.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrPermissionDenied, "role "+string(principal.Role)+" may not access this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
