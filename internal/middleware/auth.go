package middleware

import (
	"net/http"
	"strings"

	"ar-frame/internal/config"
	"github.com/gin-gonic/gin"
)

// Auth enforces a static bearer token when one is configured. With no
// token configured the API is open, matching the prototype's dev setup.
func Auth(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(cfg.AuthToken)
		if token == "" {
			c.Next()
			return
		}
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(h), "bearer ") || strings.TrimSpace(h[7:]) != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
