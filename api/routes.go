package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/Towow-sub000/api/handlers"
)

// SetupRoutes initializes all API endpoints. limit, if not nil, guards the /api group.
func SetupRoutes(router *gin.Engine, h *handlers.Handler, limit gin.HandlerFunc) {
	router.GET("/healthz", h.Health)
	router.GET("/ws", h.HandleWebSocket)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	} else {
		router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	}

	api := router.Group("/api")
	if limit != nil {
		api.Use(limit)
	}
	{
		api.POST("/signals", h.SubmitSignal)
		api.GET("/signals", h.ListSignals)
		api.GET("/signals/:id", h.GetResult)
		api.DELETE("/signals/:id", h.CancelSignal)
		api.POST("/signals/:id/retry", h.RetrySignal)
		api.POST("/signals/:id/offers", h.SubmitOffer)

		api.POST("/echo", h.RecordEcho)

		api.POST("/agents", h.RegisterAgent)
		api.GET("/agents", h.ListAgents)
		api.GET("/agents/:id", h.GetAgent)
		api.POST("/agents/:id/specialize", h.SpecializeAgent)

		api.GET("/scenes", h.ListScenes)
		api.GET("/scenes/:id", h.GetScene)
		api.PUT("/scenes/:id", h.PutScene)
	}
}
