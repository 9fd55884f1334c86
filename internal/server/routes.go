// Package server wires HTTP handlers into a gin engine for the chat
// application via routing helpers.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures and returns a gin engine with all application routes:
// the chat page, the WebSocket endpoint and the health check.
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.ChatPageHandler)
	r.GET("/ws", s.WebSocketHandler)
	r.GET("/health", s.HealthHandler)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
