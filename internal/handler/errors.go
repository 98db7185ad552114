package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/service"
)

// Error codes sent in the "code" field of error bodies.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeEmailInUse          = "EMAIL_IN_USE"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeExpiredRefreshToken = "EXPIRED_REFRESH_TOKEN"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeRefreshFailed       = "REFRESH_FAILED"
	CodeInvalidLogoutToken  = "INVALID_LOGOUT_TOKEN"
	CodeInternal            = "INTERNAL"
)

// msgRefreshRejected is shown for every refresh rejection.  The code tells
// clients what to do; the precise reason is only in the server logs.
const msgRefreshRejected = "refresh token is invalid or expired, please sign in again"

type apiError struct {
	status int
	code   string
	msg    string
}

// classify maps a service error to its HTTP form.  A corrupted token and a
// token bound to another user are reported as plain invalid tokens so the
// response does not confirm that tampering was detected.
func classify(err error) apiError {
	var limited *service.RateLimitedError
	switch {
	case errors.Is(err, service.ErrValidation):
		return apiError{http.StatusBadRequest, CodeValidation, err.Error()}
	case errors.Is(err, service.ErrEmailInUse):
		return apiError{http.StatusBadRequest, CodeEmailInUse, service.ErrEmailInUse.Error()}
	case errors.Is(err, service.ErrInvalidCredentials):
		return apiError{http.StatusBadRequest, CodeInvalidCredentials, service.ErrInvalidCredentials.Error()}
	case errors.As(err, &limited):
		return apiError{http.StatusTooManyRequests, CodeRateLimited, limited.Error()}
	case errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrCorruptedRefreshToken),
		errors.Is(err, service.ErrTokenMismatch):
		return apiError{http.StatusUnauthorized, CodeInvalidRefreshToken, msgRefreshRejected}
	case errors.Is(err, service.ErrExpiredRefreshToken):
		return apiError{http.StatusUnauthorized, CodeExpiredRefreshToken, msgRefreshRejected}
	case errors.Is(err, service.ErrUserNotFound):
		return apiError{http.StatusUnauthorized, CodeUserNotFound, msgRefreshRejected}
	case errors.Is(err, service.ErrRefresh):
		return apiError{http.StatusUnauthorized, CodeRefreshFailed, msgRefreshRejected}
	case errors.Is(err, service.ErrInvalidLogoutToken):
		return apiError{http.StatusUnauthorized, CodeInvalidLogoutToken, service.ErrInvalidLogoutToken.Error()}
	}
	return apiError{http.StatusInternalServerError, CodeInternal, "internal server error"}
}

// writeError renders err.  Only unclassified errors are logged here; the
// service already logged the security-relevant ones.
func writeError(c echo.Context, log *zap.SugaredLogger, err error) error {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		log.Errorw("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"err", err)
	}
	body := echo.Map{"error": ae.msg, "code": ae.code}
	var limited *service.RateLimitedError
	if errors.As(err, &limited) {
		body["timeLeft"] = limited.TimeLeft
	}
	return c.JSON(ae.status, body)
}

// isRefreshRejection reports whether the presented refresh token itself
// was refused.  ErrRefresh is not one: the token may still be good.
func isRefreshRejection(err error) bool {
	for _, target := range []error{
		service.ErrInvalidRefreshToken,
		service.ErrExpiredRefreshToken,
		service.ErrCorruptedRefreshToken,
		service.ErrTokenMismatch,
		service.ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
