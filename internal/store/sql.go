package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/google/uuid"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver names accepted by OpenSQL.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQL persists credentials and history in PostgreSQL or SQLite. Timestamps
// are stored as unix nanoseconds so both engines order them the same way.
type SQL struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

var _ CredentialStore = (*SQL)(nil)
var _ HistoryStore = (*SQL)(nil)

// OpenSQL connects, pings and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string, log *slog.Logger) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch driver {
	case DriverSQLite:
		// One writer; also keeps ":memory:" databases shared across calls.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQL{db: db, driver: driver, log: log}
	if err := s.migrate(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) migrate(ctx context.Context) error {
	messageID := "id BIGSERIAL PRIMARY KEY"
	if s.driver == DriverSQLite {
		messageID = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS credentials (username TEXT PRIMARY KEY, password_hash TEXT NOT NULL, created_at BIGINT NOT NULL);",
		"CREATE TABLE IF NOT EXISTS messages (" + messageID + ", message_id TEXT NOT NULL, username TEXT NOT NULL, text TEXT NOT NULL, sent_at BIGINT NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetCredential retrieves a credential by username.
func (s *SQL) GetCredential(ctx context.Context, username string) (chat.Credential, error) {
	var (
		c         chat.Credential
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT username, password_hash, created_at FROM credentials WHERE username = $1",
		username,
	).Scan(&c.Username, &c.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return chat.Credential{}, ErrNotFound
	}
	if err != nil {
		return chat.Credential{}, err
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}

// CreateCredential inserts the credential; the primary key on username makes
// the insert a no-op when it is taken, which is reported as ErrAlreadyExists.
func (s *SQL) CreateCredential(ctx context.Context, credential chat.Credential) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO credentials (username, password_hash, created_at) VALUES ($1, $2, $3) ON CONFLICT (username) DO NOTHING",
		credential.Username, credential.PasswordHash, credential.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// SaveMessage appends a message.
func (s *SQL) SaveMessage(ctx context.Context, message chat.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (message_id, username, text, sent_at) VALUES ($1, $2, $3, $4)",
		message.ID, message.Username, message.Text, message.Timestamp.UnixNano(),
	)
	return err
}

// RecentMessages selects the newest limit rows and returns them oldest first.
func (s *SQL) RecentMessages(ctx context.Context, limit int) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, username, text, sent_at FROM "+
			"(SELECT id, message_id, username, text, sent_at FROM messages ORDER BY sent_at DESC, id DESC LIMIT $1) AS recent "+
			"ORDER BY sent_at ASC, id ASC",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []chat.Message
	for rows.Next() {
		var (
			m      chat.Message
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.Username, &m.Text, &sentAt); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, sentAt).UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
