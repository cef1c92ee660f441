package handler

import (
	"net/http"

	"payrecon/internal/config"
	"payrecon/internal/middleware"
	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

// スケジューラから叩く定期ジョブ
type JobHandler struct {
	runner *usecase.JobRunner
}

func NewJobHandler(runner *usecase.JobRunner) *JobHandler {
	return &JobHandler{runner: runner}
}

func (h *JobHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	jobs := e.Group("/jobs")
	jobs.Use(middleware.JobTokenGuard(cfg.JobSecret, cfg.JobSecretHash))

	jobs.POST("/reconcile-payments", h.reconcile)
	jobs.POST("/audit-consistency", h.audit)
}

func (h *JobHandler) reconcile(c echo.Context) error {
	out, err := h.runner.RunReconciliation(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type auditFailedResponse struct {
	Error  string              `json:"error"`
	Report usecase.AuditReport `json:"report"`
}

func (h *JobHandler) audit(c echo.Context) error {
	out, err := h.runner.RunAudit(c.Request().Context())
	if err != nil {
		if _, ok := usecase.AsHTTPError(err); ok {
			return writeError(c, err)
		}
		//途中までの結果も返す（次回の実行で続きから直る）
		return c.JSON(http.StatusInternalServerError, auditFailedResponse{Error: "audit interrupted", Report: out})
	}
	return c.JSON(http.StatusOK, out)
}
