// Package auth resolves a username/password pair into an identity, creating
// the account on first use.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/store"
)

var (
	// ErrWrongPassword means the account exists and the password does not match.
	ErrWrongPassword = errors.New("wrong password")
	// ErrInvalidPassword means a new account was refused by the password policy.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidUsername means the username is empty, too long or reserved.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrStoreUnavailable means the credential store could not be reached.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrAlreadyIdentified means the session is already bound to a username.
	ErrAlreadyIdentified = errors.New("already logged in")
)

// Result is a successful authentication.
type Result struct {
	Username string
	IsNew    bool
}

// Service authenticates against a CredentialStore.
type Service struct {
	credentials store.CredentialStore
	log         *slog.Logger
	cost        int
	now         func() time.Time
}

// NewService creates an auth service hashing with bcrypt.DefaultCost.
func NewService(credentials store.CredentialStore, log *slog.Logger) *Service {
	return &Service{
		credentials: credentials,
		log:         log,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// Login looks username up and either checks the password or, for an unknown
// username, registers it. A registration that loses a race against a
// concurrent one falls back to checking the password of the winner's record.
func (s *Service) Login(ctx context.Context, username, password string) (Result, error) {
	username = normalizeUsername(username)
	if err := validateUsername(username); err != nil {
		return Result{}, err
	}

	cred, err := s.credentials.GetCredential(ctx, username)
	switch {
	case err == nil:
		return s.verify(cred, password)
	case errors.Is(err, store.ErrNotFound):
		return s.register(ctx, username, password)
	default:
		s.log.Error("Credential lookup failed", "username", username, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *Service) register(ctx context.Context, username, password string) (Result, error) {
	if err := validateRegistration(username, password); err != nil {
		return Result{}, err
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}

	err = s.credentials.CreateCredential(ctx, chat.Credential{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	switch {
	case err == nil:
		s.log.Info("Account created", "username", username)
		return Result{Username: username, IsNew: true}, nil
	case errors.Is(err, store.ErrAlreadyExists):
		s.log.Debug("Concurrent registration lost, checking existing account", "username", username)
		cred, getErr := s.credentials.GetCredential(ctx, username)
		if getErr != nil {
			s.log.Error("Credential lookup after conflict failed", "username", username, "error", getErr)
			return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, getErr)
		}
		return s.verify(cred, password)
	default:
		s.log.Error("Credential creation failed", "username", username, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *Service) verify(cred chat.Credential, password string) (Result, error) {
	ok, err := ComparePassword(password, cred.PasswordHash)
	if err != nil {
		s.log.Error("Stored password hash is unreadable", "username", cred.Username, "error", err)
		return Result{}, ErrWrongPassword
	}
	if !ok {
		return Result{}, ErrWrongPassword
	}
	return Result{Username: cred.Username}, nil
}
