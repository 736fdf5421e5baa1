package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
)

// RateLimit limits requests per (clientIP, path) within a fixed window using
// the supplied store. A nil store falls back to a process-local one.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + "|" + c.FullPath()
		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// Fail open; the limiter must not take the API down with it.
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(resetIn.Seconds())))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
