package facilitator

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/ratelimit"
)

const requestIDKey = "request_id"

// skipAdmission marks the endpoints rate limiting and auth never touch.
func skipAdmission(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}

// RequestID tags every request with an id, honoring an inbound X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// CORS allows cross-origin calls from payment clients in browsers.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID, X-PAYMENT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		log.Info("request", map[string]any{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(started).String(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// RateLimit applies the limiter keyed by client IP. Health and metrics
// endpoints are exempt, and a limiter backend failure fails open.
func RateLimit(limiter ratelimit.Limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || skipAdmission(c.Request.URL.Path) {
			c.Next()
			return
		}

		allowed, info, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("rate limiter unavailable", map[string]any{"error": err.Error()})
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(info.Reset).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// APIKeyAuth requires a known key via the X-API-Key header or the api_key
// query parameter. Health endpoints and /supported stay open.
func APIKeyAuth(keys map[string]string, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipAdmission(c.Request.URL.Path) || c.Request.URL.Path == "/supported" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		name, ok := keys[key]
		if key == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "valid API key required",
				"code":  "unauthorized",
			})
			return
		}

		c.Set("api_client", name)
		log.Debug("authenticated", map[string]any{
			"request_id": c.GetString(requestIDKey),
			"client":     name,
		})
		c.Next()
	}
}

// clientLabel names the caller for logs: API client name when
// authenticated, IP otherwise.
func clientLabel(c *gin.Context) string {
	if name := c.GetString("api_client"); name != "" {
		return fmt.Sprintf("%s(%s)", name, c.ClientIP())
	}
	return c.ClientIP()
}
