package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wzl2223096755/AFitness-sub001/cmd/desktop/handlers"
	"github.com/wzl2223096755/AFitness-sub001/internal/app"
	"github.com/wzl2223096755/AFitness-sub001/internal/logging"
)

// requestLogger logs each request through the structured logger.
func requestLogger() gin.HandlerFunc {
	log := logging.Get().Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
		})
	}
}

// NewRouter builds the gin engine serving the desktop API.
func NewRouter(a *app.App, hub *WSHub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	SetupRoutes(r, a, hub)
	return r
}

// SetupRoutes registers the desktop API on r.
func SetupRoutes(r *gin.Engine, a *app.App, hub *WSHub) {
	syncHandler := handlers.NewSyncHandler(a.Facade, a.Queue, a.Monitor)

	r.GET("/ws", HandleWebSocket(hub, a.Facade))
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "afitness-desktop"})
		})

		api.PUT("/connectivity", syncHandler.SetConnectivity)

		sync := api.Group("/sync")
		{
			sync.GET("/status", syncHandler.GetStatus)
			sync.GET("/items", syncHandler.ListItems)
			sync.DELETE("/items/:id", syncHandler.Discard)
			sync.POST("/trigger", syncHandler.Trigger)
			sync.POST("/retry", syncHandler.Retry)
			sync.POST("/:domain", syncHandler.Enqueue)
		}
	}
}
