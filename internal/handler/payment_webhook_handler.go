package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"payrecon/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済代行からの通知
type PaymentWebhookHandler struct {
	uc          *usecase.PaymentWebhookUsecase
	ackOnError  bool
	logger      *slog.Logger
	maxBodySize int64
}

func NewPaymentWebhookHandler(uc *usecase.PaymentWebhookUsecase, ackOnError bool, logger *slog.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{uc: uc, ackOnError: ackOnError, logger: logger, maxBodySize: 64 << 10}
}

func (h *PaymentWebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/payments", h.receive)
}

// data.id は数値でも文字列でも来る
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type PaymentWebhookRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

type PaymentWebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

func (h *PaymentWebhookHandler) receive(c echo.Context) error {
	var req PaymentWebhookRequest
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxBodySize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		}
	}

	//クエリ形式（?type=payment&data.id=...）でも来る
	if req.Type == "" {
		req.Type = firstNonEmpty(c.QueryParam("type"), c.QueryParam("topic"))
	}
	dataID := string(req.Data.ID)
	if dataID == "" {
		dataID = firstNonEmpty(c.QueryParam("data.id"), c.QueryParam("id"))
	}

	in := usecase.PaymentWebhookInput{
		Type:      req.Type,
		Action:    req.Action,
		DataID:    dataID,
		Signature: c.Request().Header.Get("x-signature"),
		RequestID: c.Request().Header.Get("x-request-id"),
	}
	res, err := h.uc.Handle(c.Request().Context(), in)
	if err != nil {
		//署名・入力の不正はそのまま返す（何も変更していない）
		if he, ok := usecase.AsHTTPError(err); ok && he.Status < http.StatusInternalServerError {
			return writeError(c, err)
		}

		h.logger.ErrorContext(c.Request().Context(), "webhook processing failed",
			slog.String("payment_id", dataID),
			slog.String("error", err.Error()),
		)
		//再送の嵐を避けるため受領だけ返す（取りこぼしはポーラー・監査が拾う）
		if h.ackOnError {
			return c.JSON(http.StatusOK, PaymentWebhookResponse{Received: true})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, PaymentWebhookResponse{Received: true, Outcome: string(res.Outcome)})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
