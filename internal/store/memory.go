package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Memory is an in-process store used when no database is configured and in tests.
type Memory struct {
	mu          sync.Mutex
	credentials map[string]chat.Credential
	messages    []chat.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{credentials: make(map[string]chat.Credential)}
}

var _ CredentialStore = (*Memory)(nil)
var _ HistoryStore = (*Memory)(nil)

// GetCredential returns the credential for username or ErrNotFound.
func (m *Memory) GetCredential(_ context.Context, username string) (chat.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[username]
	if !ok {
		return chat.Credential{}, ErrNotFound
	}
	return cred, nil
}

// CreateCredential stores credential unless the username is taken.
func (m *Memory) CreateCredential(_ context.Context, credential chat.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[credential.Username]; ok {
		return ErrAlreadyExists
	}
	m.credentials[credential.Username] = credential
	return nil
}

// SaveMessage appends message to the log.
func (m *Memory) SaveMessage(_ context.Context, message chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, message)
	return nil
}

// RecentMessages returns the newest limit messages in ascending time order.
func (m *Memory) RecentMessages(_ context.Context, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	sorted := make([]chat.Message, len(m.messages))
	copy(sorted, m.messages)
	m.mu.Unlock()

	// Saves may complete out of acceptance order.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}
