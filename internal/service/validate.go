package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/iliyamo/testdeck/internal/repository"
	"github.com/iliyamo/testdeck/internal/utils"
)

const (
	minPasswordLen = 6
	maxFullNameLen = 100
	maxEmailLen    = 254
)

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email    string
	FullName string
	Password string
}

func (in *RegisterInput) normalize() error {
	email, err := validateEmail(in.Email)
	if err != nil {
		return err
	}
	in.Email = email

	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return validationError("full name is required")
	}
	if utf8.RuneCountInString(in.FullName) > maxFullNameLen {
		return validationError("full name must be at most %d characters", maxFullNameLen)
	}
	return validatePassword(in.Password)
}

func validateEmail(raw string) (string, error) {
	email := repository.NormalizeEmail(raw)
	if email == "" {
		return "", validationError("email is required")
	}
	if len(email) > maxEmailLen {
		return "", validationError("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	// reject display-name forms such as "Bob <bob@x.io>"
	if err != nil || addr.Address != email {
		return "", validationError("email is not valid")
	}
	return email, nil
}

func validatePassword(p string) error {
	if len(p) < minPasswordLen {
		return validationError("password must be at least %d characters", minPasswordLen)
	}
	if len(p) > utils.MaxPasswordBytes {
		return validationError("password must be at most %d bytes", utils.MaxPasswordBytes)
	}
	return nil
}
