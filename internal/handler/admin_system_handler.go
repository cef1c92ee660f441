package handler

import (
	"net/http"
	"strconv"
	"time"

	"payrecon/internal/config"
	"payrecon/internal/domain/model"
	"payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminSystemHandler struct {
	orders *usecase.AdminOrderUsecase
	jobs   *usecase.JobRunner
}

func NewAdminSystemHandler(orders *usecase.AdminOrderUsecase, jobs *usecase.JobRunner) *AdminSystemHandler {
	return &AdminSystemHandler{orders: orders, jobs: jobs}
}

type MaintenanceRequest struct {
	Enabled    bool  `json:"enabled"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type MaintenanceResponse struct {
	Maintenance bool `json:"maintenance"`
}

func (h *AdminSystemHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := adminGroup(e, cfg, userRepo)

	admin.GET("/audit-logs", h.auditLogs)
	admin.GET("/maintenance", h.getMaintenance)
	admin.PUT("/maintenance", h.setMaintenance)
}

func (h *AdminSystemHandler) auditLogs(c echo.Context) error {
	f := repository.AuditLogFilter{Limit: 50}

	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		f.Limit = l
	}
	if v := c.QueryParam("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
		}
		f.Offset = o
	}
	if v := c.QueryParam("actor_user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid actor_user_id"})
		}
		f.ActorUserID = &id
	}
	if v := c.QueryParam("action"); v != "" {
		a := model.AuditAction(v)
		f.Action = &a
	}
	if v := c.QueryParam("resource_type"); v != "" {
		rt := model.AuditResourceType(v)
		f.ResourceType = &rt
	}
	if v := c.QueryParam("resource_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid resource_id"})
		}
		f.ResourceID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		tm, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from"})
		}
		f.CreatedFrom = tm
	}
	if v := c.QueryParam("to"); v != "" {
		tm, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to"})
		}
		f.CreatedTo = tm
	}

	out, err := h.orders.ListAuditLogs(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminSystemHandler) getMaintenance(c echo.Context) error {
	on, err := h.jobs.Maintenance(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, MaintenanceResponse{Maintenance: on})
}

func (h *AdminSystemHandler) setMaintenance(c echo.Context) error {
	var req MaintenanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if req.TTLSeconds < 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ttl_seconds"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.jobs.SetMaintenance(c.Request().Context(), adminID, usecase.MaintenanceInput{
		Enabled: req.Enabled,
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
	}); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, MaintenanceResponse{Maintenance: req.Enabled})
}
