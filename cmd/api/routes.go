package main

import (
	"messenger-platform/internal/gateway"
	"messenger-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gw *gateway.Gateway, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The websocket handshake authenticates itself (header or token query
	// param), so it sits outside the middleware group.
	r.GET("/ws", gw.Handle)

	// AUTH routes (token issuance).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		calls := v1.Group("/calls")
		{
			calls.GET("/:room_id", h.GetCall)
			calls.POST("/:room_id/end", h.EndCall)
		}

		conversations := v1.Group("/conversations")
		{
			conversations.POST("/:conversation_id/read", h.MarkRead)
		}
	}
}
