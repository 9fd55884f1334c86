package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Open selects a backend from a connection string:
//
//	""                      credentials in memory, no history
//	memory://               credentials and history in memory
//	badger://<dir>          BadgerDB
//	postgres://...          PostgreSQL (also postgresql://)
//	sqlite://<file>         SQLite
func Open(ctx context.Context, connString string, log *slog.Logger) (Backend, error) {
	switch {
	case connString == "":
		return NoPersistence(), nil

	case connString == "memory://":
		m := NewMemory()
		return Backend{Credentials: m, History: m, Name: "memory"}, nil

	case strings.HasPrefix(connString, "badger://"):
		b, err := OpenBadger(strings.TrimPrefix(connString, "badger://"), log)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Credentials: b, History: b, Name: "badger", closer: b.Close}, nil

	case strings.HasPrefix(connString, "postgres://"), strings.HasPrefix(connString, "postgresql://"):
		s, err := OpenSQL(ctx, DriverPostgres, connString, log)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Credentials: s, History: s, Name: "postgres", closer: s.Close}, nil

	case strings.HasPrefix(connString, "sqlite://"):
		s, err := OpenSQL(ctx, DriverSQLite, strings.TrimPrefix(connString, "sqlite://"), log)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Credentials: s, History: s, Name: "sqlite", closer: s.Close}, nil
	}
	return Backend{}, fmt.Errorf("unsupported connection string scheme: %q", redact(connString))
}

// OpenOrDegrade is Open, but an unreachable or invalid backend is logged and
// replaced by NoPersistence so the server still starts.
func OpenOrDegrade(ctx context.Context, connString string, log *slog.Logger) Backend {
	backend, err := Open(ctx, connString, log)
	if err != nil {
		log.Error("Persistence unavailable, running without history", "error", err)
		return NoPersistence()
	}
	if !backend.Persistent() {
		log.Warn("No DATABASE_URL configured, running without history; accounts live in memory")
	}
	return backend
}

// NoPersistence keeps accounts in memory for the process lifetime and disables history.
func NoPersistence() Backend {
	return Backend{Credentials: NewMemory(), Name: "none"}
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(connString string) string {
	if i := strings.Index(connString, "://"); i >= 0 {
		return connString[:i+3] + "..."
	}
	return "..."
}
