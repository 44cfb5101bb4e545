package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concentra-io/concentra/internal/ratelimit"
	"github.com/concentra-io/concentra/internal/util"
)

const requestIDKey = "request_id"

// requestIDMiddleware echoes an incoming X-Request-ID or generates one,
// stashing it in the gin context and a logger carried on the request
// context so every handler's log lines and error envelopes share it.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)

		ctx := util.WithField(c.Request.Context(), "request_id", id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// apiKeyMiddleware rejects requests missing or mismatching the
// configured X-API-Key header. A blank configured key disables the check
// entirely.
func apiKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != expected {
			respondError(c, util.NewKindError(util.KindUnauthorized, "missing or invalid API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origin patterns, matched with
// shell-glob semantics (e.g. "*.example.com"), rather than gin's literal
// string compare.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, X-API-Key, X-Request-ID, Accept-Encoding")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, patterns []string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if ok, _ := doublestar.Match(p, origin); ok {
			return true
		}
	}
	return false
}

// rateLimitMiddleware enforces the per-(client, path) request budget,
// setting Retry-After on a 429.
func rateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := clientIdentifier(c)
		if !limiter.Allow(clientID, c.FullPath()) {
			util.DefaultMetrics.IncCounter("rate_limit_rejections", map[string]string{"path": c.FullPath()})
			c.Header("Retry-After", strconv.Itoa(int(ratelimit.DefaultWindow.Seconds())))
			respondError(c, util.NewKindError(util.KindRateLimited, "rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func clientIdentifier(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return fmt.Sprintf("key:%s", key)
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}
