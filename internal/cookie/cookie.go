// Package cookie sets, reads and clears the two session cookies.
package cookie

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	AccessName  = "access_token"
	RefreshName = "refresh_token"
)

// Adapter writes cookies with HttpOnly, SameSite=Strict and Path=/.  Secure
// is off only for plain-HTTP development.
type Adapter struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewAdapter(secure bool, accessTTL, refreshTTL time.Duration) Adapter {
	return Adapter{Secure: secure, AccessTTL: accessTTL, RefreshTTL: refreshTTL}
}

// SetTokens stores both tokens on the response.
func (a Adapter) SetTokens(c echo.Context, access, refresh string) {
	c.SetCookie(a.build(AccessName, access, int(a.AccessTTL/time.Second)))
	c.SetCookie(a.build(RefreshName, refresh, int(a.RefreshTTL/time.Second)))
}

// Clear expires both cookies immediately.
func (a Adapter) Clear(c echo.Context) {
	c.SetCookie(a.build(AccessName, "", -1))
	c.SetCookie(a.build(RefreshName, "", -1))
}

func (a Adapter) build(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// AccessToken returns the access cookie value, or "".
func AccessToken(c echo.Context) string { return read(c, AccessName) }

// RefreshToken returns the refresh cookie value, or "".
func RefreshToken(c echo.Context) string { return read(c, RefreshName) }

func read(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
