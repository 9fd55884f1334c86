//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store defines the durable collaborators of the chat server, the
// credential store and the history store, and ships adapters for memory,
// BadgerDB, PostgreSQL and SQLite.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/chatroom/internal/chat"
)

var (
	// ErrNotFound is returned when no credential exists for a username.
	ErrNotFound = errors.New("credential not found")
	// ErrAlreadyExists is returned when creating a credential whose username is taken.
	ErrAlreadyExists = errors.New("credential already exists")
)

// CredentialStore maps usernames to password records. CreateCredential is an
// atomic insert-if-absent: the store, not its callers, arbitrates uniqueness.
type CredentialStore interface {
	GetCredential(ctx context.Context, username string) (chat.Credential, error)
	CreateCredential(ctx context.Context, credential chat.Credential) error
}

// HistoryStore is an append-only log of chat messages.
// RecentMessages returns at most limit of the newest messages, oldest first.
type HistoryStore interface {
	SaveMessage(ctx context.Context, message chat.Message) error
	RecentMessages(ctx context.Context, limit int) ([]chat.Message, error)
}

// Backend bundles the stores selected from a connection string. History is
// nil when message persistence is disabled.
type Backend struct {
	Credentials CredentialStore
	History     HistoryStore
	Name        string
	closer      func() error
}

// Persistent reports whether messages are persisted.
func (b Backend) Persistent() bool {
	return b.History != nil
}

// Close releases the underlying database, if any.
func (b Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
