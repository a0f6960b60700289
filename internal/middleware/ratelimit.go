package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/streamspace/api/internal/errors"
	"github.com/streamspace/streamspace/api/internal/ratelimit"
)

// RateLimit builds a gin middleware that charges one request against the
// given class, keyed by identityFn(c). A denied request aborts with the
// relay's standard RATE_LIMIT_EXCEEDED error and a Retry-After header.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class, identityFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFn(c)
		if identity == "" {
			identity = c.ClientIP()
		}

		decision, err := limiter.Consume(c.Request.Context(), class, identity, ratelimit.CostDefault)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errors.ServerError(err))
			return
		}
		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			relayErr := errors.RateLimitExceeded(retryAfter)
			c.AbortWithStatusJSON(relayErr.StatusCode, relayErr)
			return
		}

		c.Next()
	}
}

// ByClientIP is a convenience identity function for endpoints with no
// authenticated principal yet, e.g. the socket upgrade route.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}
