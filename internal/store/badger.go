package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix    = "user:"
	messagePrefix = "msg:"
)

// Badger persists credentials and history in an embedded BadgerDB.
//
// Messages are keyed "msg:{unix_nano_padded}:{id}" so a reverse prefix scan
// walks them newest first; the 19-digit padding keeps lexicographic and
// chronological order aligned.
type Badger struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadger opens (or creates) a BadgerDB directory.
func OpenBadger(dir string, log *slog.Logger) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return NewBadger(db, log), nil
}

// NewBadger wraps an already opened database.
func NewBadger(db *badger.DB, log *slog.Logger) *Badger {
	return &Badger{db: db, log: log}
}

var _ CredentialStore = (*Badger)(nil)
var _ HistoryStore = (*Badger)(nil)

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

type diskCredential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

type diskMessage struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	At       int64  `json:"at"`
}

// GetCredential loads the credential stored under "user:{username}".
func (b *Badger) GetCredential(_ context.Context, username string) (chat.Credential, error) {
	var dc diskCredential
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Credential{}, ErrNotFound
	}
	if err != nil {
		return chat.Credential{}, err
	}
	return chat.Credential{
		Username:     dc.Username,
		PasswordHash: dc.PasswordHash,
		CreatedAt:    time.Unix(0, dc.CreatedAt).UTC(),
	}, nil
}

// CreateCredential writes the credential only if the key is absent. A
// transaction conflict means a concurrent writer created the same key first.
func (b *Badger) CreateCredential(_ context.Context, credential chat.Credential) error {
	data, err := json.Marshal(diskCredential{
		Username:     credential.Username,
		PasswordHash: credential.PasswordHash,
		CreatedAt:    credential.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + credential.Username)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrAlreadyExists
	}
	return err
}

// SaveMessage appends message to the history.
func (b *Badger) SaveMessage(_ context.Context, message chat.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	key := fmt.Sprintf("%s%019d:%s", messagePrefix, message.Timestamp.UnixNano(), message.ID)
	data, err := json.Marshal(diskMessage{
		ID:       message.ID,
		Username: message.Username,
		Text:     message.Text,
		At:       message.Timestamp.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// RecentMessages scans the message prefix backwards, stops after limit
// entries and returns them oldest first.
func (b *Badger) RecentMessages(_ context.Context, limit int) ([]chat.Message, error) {
	var messages []chat.Message
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Past the newest possible key, the reverse seek lands on the newest message.
		seekKey := append([]byte(messagePrefix), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				b.log.Debug("History limit reached", "limit", limit)
				break
			}
			var dm diskMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dm)
			})
			if err != nil {
				return err
			}
			messages = append(messages, chat.Message{
				ID:        dm.ID,
				Username:  dm.Username,
				Text:      dm.Text,
				Timestamp: time.Unix(0, dm.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}
