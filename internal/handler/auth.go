package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/cookie"
	"github.com/iliyamo/testdeck/internal/middleware"
	"github.com/iliyamo/testdeck/internal/model"
	"github.com/iliyamo/testdeck/internal/service"
)

// requestTimeout bounds every store call made on behalf of a request.
const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Sessions *service.SessionService
	Cookies  cookie.Adapter
	Log      *zap.SugaredLogger
}

func NewAuthHandler(s *service.SessionService, cookies cookie.Adapter, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{Sessions: s, Cookies: cookies, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}
type signinReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type tokenReq struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResp struct {
	User         model.PublicUser `json:"user"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
}
type pairResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// requestContext derives the per-request store context, tagged with the
// caller's IP for security events.
func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	return service.WithClientIP(ctx, c.RealIP()), cancel
}

// Register: create a tester account and sign it in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return writeError(c, h.Log, service.ErrValidation)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	s, err := h.Sessions.Register(ctx, service.RegisterInput{
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}

	h.Cookies.SetTokens(c, s.AccessToken.Token, s.RefreshToken.Token)
	return c.JSON(http.StatusCreated, sessionResp{
		User:         s.User,
		AccessToken:  s.AccessToken.Token,
		RefreshToken: s.RefreshToken.Token,
	})
}

// Signin: verify credentials and open a session.  Rate limiting happens in
// middleware before this runs.
func (h *AuthHandler) Signin(c echo.Context) error {
	var req signinReq
	if err := c.Bind(&req); err != nil {
		return writeError(c, h.Log, service.ErrValidation)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	s, err := h.Sessions.Signin(ctx, req.Email, req.Password)
	if err != nil {
		return writeError(c, h.Log, err)
	}

	h.Cookies.SetTokens(c, s.AccessToken.Token, s.RefreshToken.Token)
	return c.JSON(http.StatusOK, sessionResp{
		User:         s.User,
		AccessToken:  s.AccessToken.Token,
		RefreshToken: s.RefreshToken.Token,
	})
}

// Refresh: rotate the refresh token.  A refused token ends the browser
// session by clearing both cookies; a transient failure leaves them.
func (h *AuthHandler) Refresh(c echo.Context) error {
	token := refreshTokenFrom(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	pair, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		if isRefreshRejection(err) {
			h.Cookies.Clear(c)
		}
		return writeError(c, h.Log, err)
	}

	h.Cookies.SetTokens(c, pair.AccessToken.Token, pair.RefreshToken.Token)
	return c.JSON(http.StatusOK, pairResp{
		AccessToken:  pair.AccessToken.Token,
		RefreshToken: pair.RefreshToken.Token,
	})
}

// Logout: delete one refresh token.  No access token is needed.
func (h *AuthHandler) Logout(c echo.Context) error {
	token := refreshTokenFrom(c)

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Sessions.Logout(ctx, token); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cookies.Clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "signed out"})
}

// LogoutAll: delete every refresh token of the caller (protected).
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": middleware.MsgTokenMissing, "code": middleware.CodeTokenMissing})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.Sessions.LogoutAll(ctx, id.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cookies.Clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "signed out of all sessions", "sessions": n})
}

// Me: the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": middleware.MsgTokenMissing, "code": middleware.CodeTokenMissing})
	}
	return c.JSON(http.StatusOK, echo.Map{"user": id})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the refresh_token cookie.  A malformed body is treated as absent.
func refreshTokenFrom(c echo.Context) string {
	var req tokenReq
	_ = c.Bind(&req)
	if t := strings.TrimSpace(req.RefreshToken); t != "" {
		return t
	}
	return cookie.RefreshToken(c)
}
