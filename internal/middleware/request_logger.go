package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jefe/internal/logging"
)

const RequestIDHeader = "X-Request-ID"

func RequestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		logf := logger.Infof
		if status >= 500 {
			logf = logger.Errorf
		}
		logf("%s %s %d %s ip=%s rid=%s", c.Request.Method, c.Request.URL.Path, status,
			time.Since(start).Round(time.Microsecond), c.ClientIP(), id)
	}
}
