package service

import (
	"errors"
	"fmt"
)

// Errors returned by SessionService.  Handlers map them to status codes;
// their messages are safe to show to clients.
var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrExpiredRefreshToken   = errors.New("refresh token expired")
	ErrCorruptedRefreshToken = errors.New("refresh token corrupted")
	ErrTokenMismatch         = errors.New("refresh token does not belong to user")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidLogoutToken    = errors.New("invalid logout token")

	// ErrRefresh covers every refresh failure that is not one of the
	// kinds above.  The cause is logged, never returned.
	ErrRefresh = errors.New("refresh failed")

	ErrValidation = errors.New("invalid payload")
)

// RateLimitedError is returned when sign-in is throttled.
type RateLimitedError struct {
	TimeLeft int // seconds until the lock passes
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %d seconds", e.TimeLeft)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
