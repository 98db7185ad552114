// Package router registers the HTTP routes of the API.
package router

import (
	"net"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/handler"
	"github.com/iliyamo/testdeck/internal/middleware"
	"github.com/iliyamo/testdeck/internal/model"
	"github.com/iliyamo/testdeck/internal/ratelimit"
	"github.com/iliyamo/testdeck/internal/utils"
)

// NewIPExtractor decides what c.RealIP() returns, which keys the sign-in
// rate limit and the ip of security events.  Without trusted proxies the
// socket peer is used and forwarding headers are ignored.  With them,
// X-Forwarded-For is followed only through the listed ranges; loopback and
// private networks are not trusted implicitly.
func NewIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth mounts /auth.  Register, signin, refresh and logout need no
// access token (refresh and logout carry a refresh token instead); signin
// is throttled per client IP.  Me and logout-all require an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, codec *utils.Codec, limiter *ratelimit.Limiter, log *zap.SugaredLogger) {
	g := e.Group("/auth")
	g.POST("/register", a.Register)
	g.POST("/signin", a.Signin, middleware.SigninRateLimit(limiter, log))
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	withAuth := middleware.WithAuth(codec)
	g.GET("/me", a.Me, withAuth)
	g.POST("/logout-all", a.LogoutAll, withAuth)
}

// RegisterAdmin mounts /admin, restricted to the admin role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, codec *utils.Codec) {
	g := e.Group("/admin", middleware.WithAuth(codec), middleware.RequireRole(model.RoleAdmin))
	g.PATCH("/users/:id/status", h.SetUserStatus)
}
