// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in chat page.
package server

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static/index.html
var chatPage []byte

// WebSocketHandler upgrades the request, creates a client for it and hands the
// client to the coordinator, which delivers history and registers it.
func (s *Server) WebSocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, s.coordinator, c.Request.RemoteAddr, s.config)
	if !s.coordinator.Connect(c.Request.Context(), client) {
		s.log.Warn("Hub is shutting down, refusing connection", "addr", c.Request.RemoteAddr)
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("Error closing refused connection", "error", err)
		}
	}
}

// HealthHandler reports liveness and the number of connected clients.
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.Count(),
	})
}

// ChatPageHandler serves the browser chat client.
func (s *Server) ChatPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", chatPage)
}
