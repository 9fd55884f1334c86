// Package server implements the HTTP and WebSocket side of the chat service.
//
// The implementation is organized into specialized files for configuration,
// the connection registry (hub), clients, the event coordinator, routing and
// HTTP handlers. Each WebSocket frame is one JSON envelope of the form
// {"event": name, "data": payload}.
package server
