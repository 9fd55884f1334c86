// Package server wires the hub, the coordinator and the WebSocket upgrader
// into one Server value.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatroom/internal/store"
)

// Server holds everything the HTTP handlers need.
type Server struct {
	config      Config
	hub         *Hub
	coordinator *Coordinator
	origins     originPolicy
	upgrader    websocket.Upgrader
	log         *slog.Logger
}

// New builds a Server. The hub is created but not started; call Start.
func New(cfg Config, backend store.Backend, authenticator Authenticator, log *slog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	hub := NewHub(log)

	s := &Server{
		config:      cfg,
		hub:         hub,
		coordinator: NewCoordinator(hub, authenticator, backend.History, cfg, log),
		origins:     newOriginPolicy(cfg.AllowedOrigins, log),
		log:         log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return s.origins.checkOrigin(r) },
	}
	return s
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config {
	return s.config
}

// Hub returns the connection registry for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Coordinator returns the event coordinator.
func (s *Server) Coordinator() *Coordinator {
	return s.coordinator
}

// Start runs the hub loop in its own goroutine.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}
