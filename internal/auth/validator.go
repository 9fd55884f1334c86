package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// MinPasswordLength is the shortest password accepted at registration, in characters.
const MinPasswordLength = 4

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

var validate = validator.New()

type registration struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required,min=4"`
}

// normalizeUsername trims surrounding whitespace; names are otherwise kept verbatim.
func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func validateUsername(username string) error {
	if err := validate.Var(username, "required,max=64"); err != nil {
		return fmt.Errorf("%w: username must be 1 to 64 characters", ErrInvalidUsername)
	}
	if strings.EqualFold(username, chat.SystemUsername) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, chat.SystemUsername)
	}
	return nil
}

// validateRegistration applies the account creation policy.
func validateRegistration(username, password string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	err := validate.Struct(registration{Username: username, Password: password})
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Field() == "Password" {
				return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidPassword, MinPasswordLength)
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidUsername, err)
	}
	if err != nil {
		return err
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidPassword, maxPasswordBytes)
	}
	return nil
}
