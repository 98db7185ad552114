package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/middleware"
	"github.com/iliyamo/testdeck/internal/service"
)

// AdminHandler serves account administration.  Routes are expected to sit
// behind WithAuth and RequireRole(admin).
type AdminHandler struct {
	Sessions *service.SessionService
	Log      *zap.SugaredLogger
}

func NewAdminHandler(s *service.SessionService, log *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{Sessions: s, Log: log}
}

type statusReq struct {
	IsActive *bool `json:"isActive"`
}

// SetUserStatus: PATCH /admin/users/:id/status {"isActive": bool}.
func (h *AdminHandler) SetUserStatus(c echo.Context) error {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || userID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id", "code": CodeValidation})
	}
	var req statusReq
	if err := c.Bind(&req); err != nil || req.IsActive == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "isActive is required", "code": CodeValidation})
	}
	actor, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": middleware.MsgTokenMissing, "code": middleware.CodeTokenMissing})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	u, err := h.Sessions.SetUserActive(ctx, actor.ID, userID, *req.IsActive)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found", "code": CodeUserNotFound})
		}
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u.Public()})
}
