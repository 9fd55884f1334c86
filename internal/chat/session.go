// Package chat holds the domain types shared by the transport, the auth service
// and the stores: sessions, chat messages, system notices and credentials.
package chat

import "sync"

// Session is the server-side state of one live connection. It starts anonymous
// and is identified at most once; identity is never downgraded.
type Session struct {
	mu           sync.RWMutex
	connectionID string
	username     string
	identified   bool
	announced    bool
}

// NewSession creates an anonymous session for the given connection id.
func NewSession(connectionID string) *Session {
	return &Session{connectionID: connectionID}
}

// ConnectionID returns the transport-supplied identifier of the session.
func (s *Session) ConnectionID() string {
	return s.connectionID
}

// Identity returns the bound username and whether the session is identified.
func (s *Session) Identity() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.identified
}

// Identify binds username to the session. It returns false, leaving the
// session untouched, when the session is already identified.
func (s *Session) Identify(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identified {
		return false
	}
	s.username = username
	s.identified = true
	return true
}

// MarkAnnounced records that the join notice for this session went out.
// It returns true only the first time it is called on an identified session.
func (s *Session) MarkAnnounced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.identified || s.announced {
		return false
	}
	s.announced = true
	return true
}
