package handler

import (
	"net/http"
	"strconv"

	"payrecon/internal/config"
	"payrecon/internal/middleware"
	"payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	//業務ルール違反のとき、次に満たすべき条件
	Precondition string `json:"precondition,omitempty"`
}

// SuccessResponse は { message: string } の形。
type SuccessResponse struct {
	Message string `json:"message"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message, Precondition: he.Precondition})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// /admin 配下の共通ミドルウェア（JWT → token_version → ADMIN）
func adminGroup(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) *echo.Group {
	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.TokenVersionGuard(userRepo))
	admin.Use(middleware.AdminRoleGuard())
	return admin
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(middleware.CtxUserIDKey)
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

func parseIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// page / limit（既定値つき）
func parsePaging(c echo.Context, defLimit int) (int, int, string) {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, "invalid page"
		}
		page = p
	}
	limit := defLimit
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, "invalid limit"
		}
		limit = l
	}
	return page, limit, ""
}
