// Package server defines the event envelope exchanged over the WebSocket and
// utility helpers reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Event names on the wire.
const (
	EventHistory       = "history"
	EventLogin         = "login"
	EventLoginResponse = "login response"
	EventNewUser       = "new user"
	EventChatMessage   = "chat message"
)

// Envelope is one WebSocket text frame: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LoginRequest is the payload of a login event.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is sent to the requesting client only.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
	IsNew    bool   `json:"isNew,omitempty"`
}

// BroadcastMessage encapsulates a payload being fanned out by the hub. A
// non-nil Sender is excluded from delivery; a nil Sender reaches everyone.
type BroadcastMessage struct {
	Sender  *Client
	Payload []byte
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
