package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
	"github.com/danieleschmidt/request-sentinel/pkg/ratelimit"
	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// LocalBurst is a per-instance smoother in front of the shared limiter.
// It absorbs request floods before they reach the store and is not a
// substitute for the rule-based budgets, which are enforced globally.
func LocalBurst(rps float64, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, exists := limiters[ip]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[ip] = limiter
		}
		return limiter
	}

	return func(c *gin.Context) {
		if !getLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimit enforces the configured request budgets against the shared
// store. Denied requests get a 429 with the reset time; store failures
// never block traffic.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.Request.URL.Path
		identifier := identifierFor(c, limiter.MatchRule(endpoint).Identifier)
		result := limiter.CheckRateLimit(c.Request.Context(), identifier, endpoint)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Total, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if !result.ResetTime.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
		}

		if !result.Allowed {
			retryAfter := time.Until(result.ResetTime)
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			}
			appErr := errors.NewRateLimitedError(result.Reason, result.ResetTime)
			c.JSON(http.StatusTooManyRequests, appErr.ToResponse())
			c.Abort()
			return
		}
		c.Next()
	}
}

// identifierFor resolves the counting key for the matched rule. A rule
// counting users or API keys falls back to the client IP when the
// request carries neither.
func identifierFor(c *gin.Context, kind types.IdentifierKind) string {
	switch kind {
	case types.IdentifierUser:
		if userID := c.GetString("user_id"); userID != "" {
			return userID
		}
	case types.IdentifierAPIKey:
		if key := c.GetHeader("X-API-Key"); key != "" {
			return key
		}
	}
	return c.ClientIP()
}
