package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	APIKeyHeader = "X-API-Key"
	apiKeyCtxKey = "apiKey"
)

// APIKeyFromContext returns the key the request authenticated with, if any.
func APIKeyFromContext(c *gin.Context) string {
	if v, ok := c.Get(apiKeyCtxKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Auth rejects requests whose X-API-Key does not match key. An empty key
// disables the check.
func Auth(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(apiKeyCtxKey, got)
		c.Next()
	}
}
