package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/errors"
)

// AdminAPIKeyHeader is the header operators present their API key in.
const AdminAPIKeyHeader = "X-Admin-API-Key"

// AdminAuth builds a gin middleware that requires a valid operator API key
// on the AdminSurface. keyHash is the bcrypt hash configured for the relay
// instance; an empty hash disables the admin surface entirely (every
// request is rejected) rather than silently accepting any key.
func AdminAuth(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			c.AbortWithStatusJSON(503, errors.New(errors.CodeServerError, "admin surface is not configured"))
			return
		}

		key := c.GetHeader(AdminAPIKeyHeader)
		if key == "" || !auth.CompareAPIKey(key, keyHash) {
			relayErr := errors.Unauthorized("invalid admin API key")
			c.AbortWithStatusJSON(relayErr.StatusCode, relayErr)
			return
		}

		c.Next()
	}
}
