package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/testdeck/internal/cookie"
	"github.com/iliyamo/testdeck/internal/model"
	"github.com/iliyamo/testdeck/internal/utils"
)

// Error codes and messages for rejected credentials.  The two messages
// differ so clients can tell "never signed in" from "sign in again".
const (
	CodeTokenMissing = "TOKEN_MISSING"
	CodeTokenInvalid = "TOKEN_INVALID"

	MsgTokenMissing = "authentication required, please sign in"
	MsgTokenInvalid = "session expired or invalid, please sign in again"
)

// WithAuth returns an Echo middleware that accepts an access token from the
// access_token cookie or, failing that, an "Authorization: Bearer" header.
// Only the access secret is tried, so refresh tokens are rejected here.
func WithAuth(codec *utils.Codec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := cookie.AccessToken(c)
			if raw == "" {
				raw = bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, errorBody(CodeTokenMissing, MsgTokenMissing))
			}

			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorBody(CodeTokenInvalid, MsgTokenInvalid))
			}

			setIdentity(c, Identity{ID: claims.UserID, Email: claims.Email, Role: model.Role(claims.Role)})
			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header value.  The
// scheme is matched case-insensitively.
func bearerToken(header string) string {
	const scheme = "bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}

func errorBody(code, msg string) echo.Map {
	return echo.Map{"error": msg, "code": code}
}
