package middleware

import (
	"time"

	"ar-frame/internal/logging"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request at debug, upgrading server
// errors to warn.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		elapsed := time.Since(start)
		if status >= 500 {
			log.Warnf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, elapsed)
			return
		}
		log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, elapsed)
	}
}
