package handler

import (
	"net/http"

	"payrecon/internal/config"
	"payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminRefundHandler struct {
	uc *usecase.RefundUsecase
}

func NewAdminRefundHandler(uc *usecase.RefundUsecase) *AdminRefundHandler {
	return &AdminRefundHandler{uc: uc}
}

type IssueRefundRequest struct {
	OrderID   int64   `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	ItemIDs   []int64 `json:"item_ids"`
	Reason    string  `json:"reason"`
}

type ApproveReturnRequest struct {
	AdminNotes      string `json:"admin_notes"`
	ProductReceived bool   `json:"product_received"`
}

type RejectReturnRequest struct {
	AdminNotes string `json:"admin_notes"`
}

func (h *AdminRefundHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := adminGroup(e, cfg, userRepo)

	admin.POST("/refunds", h.issue)
	admin.POST("/refunds/:id/retry", h.retry)
	admin.POST("/returns/:id/approve", h.approveReturn)
	admin.POST("/returns/:id/reject", h.rejectReturn)
}

// 決済代行の呼び出しが失敗して再送待ちなら202
func refundStatusCode(out usecase.RefundActionOutput) int {
	if out.PendingPrecondition == usecase.PreconditionRefundPendingRetry {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func (h *AdminRefundHandler) issue(c echo.Context) error {
	var req IssueRefundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if req.OrderID <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid order_id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.IssueRefund(c.Request().Context(), adminID, usecase.IssueRefundInput{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		ItemIDs:   req.ItemIDs,
		Reason:    req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(refundStatusCode(out), out)
}

func (h *AdminRefundHandler) retry(c echo.Context) error {
	refundID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.RetryRefund(c.Request().Context(), adminID, refundID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(refundStatusCode(out), out)
}

func (h *AdminRefundHandler) approveReturn(c echo.Context) error {
	returnID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req ApproveReturnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.ApproveReturn(c.Request().Context(), adminID, returnID, usecase.ApproveReturnInput{
		AdminNotes:      req.AdminNotes,
		ProductReceived: req.ProductReceived,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(refundStatusCode(out), out)
}

func (h *AdminRefundHandler) rejectReturn(c echo.Context) error {
	returnID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req RejectReturnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.RejectReturn(c.Request().Context(), adminID, returnID, req.AdminNotes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
