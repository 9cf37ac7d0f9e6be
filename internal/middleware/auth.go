package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkroom/inkroom-api/internal/token"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
	"github.com/inkroom/inkroom-api/pkg/response"
)

// ContextUserKey is the gin context key storing verified access claims.
const ContextUserKey = "currentUser"

// AccessCookieName is the cookie carrying the access token.
const AccessCookieName = "access_token"

// Auth protects routes by requiring a valid access token, read from the
// access cookie first and the Authorization header as a fallback.
func Auth(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractAccessToken(c)
		if raw == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := codec.VerifyAccess(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, ""))
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// OptionalAuth verifies an access token when one is present but lets the
// request through either way. Handlers behind it must treat missing claims
// as an anonymous caller.
func OptionalAuth(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractAccessToken(c)
		if raw != "" {
			if claims, err := codec.VerifyAccess(raw); err == nil {
				c.Set(ContextUserKey, claims)
			}
		}
		c.Next()
	}
}

func extractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessCookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
