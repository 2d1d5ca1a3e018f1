package middleware

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimitByIP guards unauthenticated endpoints such as login, where there
// is no key to attribute requests to.
func RateLimitByIP(limiter ratelimit.Limiter, limit int, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Check(c.Request.Context(), scope+":ip:"+c.ClientIP(), limit)
		SetRateLimitHeaders(c, result)

		if !result.Allowed {
			err := apperr.New(apperr.KindRateLimitExceeded, "Rate limit exceeded").WithDetails(map[string]interface{}{
				"limit":     result.Limit,
				"remaining": result.Remaining,
				"reset":     result.ResetAt.Unix(),
			})
			c.AbortWithStatusJSON(err.StatusCode(), apperr.Body(err))
			return
		}

		c.Next()
	}
}

func SetRateLimitHeaders(c *gin.Context, result ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if !result.Allowed {
		retryAfter := int(time.Until(result.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
}
