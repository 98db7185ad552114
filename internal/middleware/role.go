package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/testdeck/internal/model"
)

// RequireRole rejects callers whose role is not listed with 403.  It must
// run after WithAuth; without an identity the request is treated as
// unauthenticated.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := CurrentIdentity(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorBody(CodeTokenMissing, MsgTokenMissing))
			}
			if !id.Role.Valid() || !allowed[id.Role] {
				return c.JSON(http.StatusForbidden, errorBody("FORBIDDEN", "insufficient permissions"))
			}
			return next(c)
		}
	}
}
