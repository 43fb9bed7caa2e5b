package http

import (
	"ar-frame/internal/config"
	"ar-frame/internal/handlers"
	"ar-frame/internal/logging"
	"ar-frame/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func NewRouter(cfg config.Config, log *logging.Logger, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"name": "ar-frame", "status": "running"})
	})

	v1 := r.Group("/api/ar/v1")
	v1.Use(middleware.Auth(cfg))
	{
		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.DELETE("/sessions/:id", h.DeleteSession)

		v1.GET("/sessions/:id/objects", h.ListObjects)
		v1.POST("/sessions/:id/objects", h.UpsertObject)
		v1.GET("/sessions/:id/objects/:oid", h.GetObject)
		v1.DELETE("/sessions/:id/objects/:oid", h.DeleteObject)
		v1.POST("/sessions/:id/clear", h.ClearSession)
		v1.GET("/sessions/:id/stats", h.SessionStats)
		v1.GET("/sessions/:id/events", h.StreamEvents)
	}
	return r
}
