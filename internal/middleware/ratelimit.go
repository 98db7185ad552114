package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/ratelimit"
	"github.com/iliyamo/testdeck/internal/service"
)

// CodeRateLimited is the error code of throttled requests.
const CodeRateLimited = "RATE_LIMITED"

// SigninRateLimit throttles requests per client IP through l.  A locked
// client gets 429 with the remaining lockout in both the body (timeLeft)
// and the Retry-After header.  When the store fails the request is let
// through and the failure logged.
func SigninRateLimit(l *ratelimit.Limiter, log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			res, err := l.Check(c.Request().Context(), ip)
			if err != nil {
				log.Warnw("rate limit check failed, allowing request", "ip", ip, "err", err)
				return next(c)
			}
			if res.Allowed {
				return next(c)
			}

			limited := &service.RateLimitedError{TimeLeft: res.TimeLeft}
			log.Warnw("signin rate limited", "ip", ip, "time_left", res.TimeLeft)
			c.Response().Header().Set("Retry-After", strconv.Itoa(res.TimeLeft))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":    limited.Error(),
				"code":     CodeRateLimited,
				"timeLeft": res.TimeLeft,
			})
		}
	}
}
