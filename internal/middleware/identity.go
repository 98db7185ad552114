package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/testdeck/internal/model"
)

// Identity is the authenticated caller as described by its access token.
// It is not re-read from the database, so role or status changes show up
// only once the token is renewed.
type Identity struct {
	ID    uint64     `json:"id"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

const identityKey = "identity"

type identityCtxKey struct{}

// setIdentity stores id on the echo context and on the request context, so
// code that only sees a context.Context can read it too.
func setIdentity(c echo.Context, id Identity) {
	c.Set(identityKey, id)
	req := c.Request()
	c.SetRequest(req.WithContext(context.WithValue(req.Context(), identityCtxKey{}, id)))
}

// CurrentIdentity returns the identity stored by WithAuth.
func CurrentIdentity(c echo.Context) (Identity, bool) {
	id, ok := c.Get(identityKey).(Identity)
	return id, ok
}

// IdentityFromContext returns the identity stored by WithAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
