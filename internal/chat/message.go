package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemUsername is the sender name used for join and leave notices.
const SystemUsername = "System"

// Message is a chat message as broadcast to clients and kept in history.
// System notices share the shape but carry no ID and are never persisted.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Credential is the stored account record. PasswordHash is a bcrypt hash.
type Credential struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// NewMessage builds a user message with a fresh id.
func NewMessage(username, text string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Username:  username,
		Text:      text,
		Timestamp: at,
	}
}

// JoinNotice announces that username entered the chat.
func JoinNotice(username string, at time.Time) Message {
	return Message{
		Username:  SystemUsername,
		Text:      fmt.Sprintf("%s joined", username),
		Timestamp: at,
	}
}

// LeaveNotice announces that username left the chat.
func LeaveNotice(username string, at time.Time) Message {
	return Message{
		Username:  SystemUsername,
		Text:      fmt.Sprintf("%s left", username),
		Timestamp: at,
	}
}

// Clock hands out UTC timestamps that never go backwards, even when the wall
// clock does, so messages accepted later never carry an earlier time.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource returns a Clock backed by now. Used by tests.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time, or the last returned time if the source
// moved backwards.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}
