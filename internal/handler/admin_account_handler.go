package handler

import (
	"net/http"

	"payrecon/internal/config"
	"payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 販売者口座の参照（残高・取引ログ・再計算チェック）
type AdminAccountHandler struct {
	uc *usecase.AccountUsecase
}

func NewAdminAccountHandler(uc *usecase.AccountUsecase) *AdminAccountHandler {
	return &AdminAccountHandler{uc: uc}
}

func (h *AdminAccountHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := adminGroup(e, cfg, userRepo)

	admin.GET("/accounts/:id", h.get)
	admin.GET("/accounts/:id/transactions", h.statement)
	admin.GET("/accounts/:id/verify", h.verify)
}

func (h *AdminAccountHandler) get(c echo.Context) error {
	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	out, err := h.uc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminAccountHandler) statement(c echo.Context) error {
	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	page, limit, msg := parsePaging(c, 50)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}
	out, err := h.uc.Statement(c.Request().Context(), id, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminAccountHandler) verify(c echo.Context) error {
	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	out, err := h.uc.VerifyBalance(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
