package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/inkroom/inkroom-api/internal/models"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
	"github.com/inkroom/inkroom-api/pkg/response"
)

// RequireRoles enforces role-based access control for routes. The role comes
// from the verified access claims, never from the request.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.AccessClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
