package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"payrecon/internal/domain/model"
	"payrecon/internal/infra/gateway"
	repo "payrecon/internal/repository"
)

type PaymentWebhookInput struct {
	Type      string
	Action    string
	DataID    string
	Signature string
	RequestID string
}

type PaymentWebhookResult struct {
	Handled bool              `json:"handled"`
	OrderID int64             `json:"order_id,omitempty"`
	Outcome SettlementOutcome `json:"outcome,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// 決済通知の受け口。本文は「何かが変わった」合図として扱い、
// 支払いの状態は必ず決済代行から取り直す。
type PaymentWebhookUsecase struct {
	tx         repo.TransactionManager
	gateway    PaymentGateway
	verifier   *SignatureVerifier
	settlement *SettlementService
	logger     *slog.Logger
}

func NewPaymentWebhookUsecase(
	tx repo.TransactionManager,
	gw PaymentGateway,
	verifier *SignatureVerifier,
	settlement *SettlementService,
	logger *slog.Logger,
) *PaymentWebhookUsecase {
	return &PaymentWebhookUsecase{
		tx:         tx,
		gateway:    gw,
		verifier:   verifier,
		settlement: settlement,
		logger:     logger,
	}
}

func (u *PaymentWebhookUsecase) Handle(ctx context.Context, in PaymentWebhookInput) (PaymentWebhookResult, error) {
	dataID := strings.TrimSpace(in.DataID)

	if err := u.verifier.Verify(dataID, strings.TrimSpace(in.RequestID), in.Signature); err != nil {
		u.logger.WarnContext(ctx, "webhook signature rejected",
			slog.String("data_id", dataID),
			slog.String("error", err.Error()),
		)
		return PaymentWebhookResult{}, NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	//支払い以外の通知は受け取るだけ
	if t := strings.ToLower(strings.TrimSpace(in.Type)); t != "payment" && !strings.HasPrefix(strings.ToLower(in.Action), "payment.") {
		return PaymentWebhookResult{Reason: "ignored notification type"}, nil
	}
	if dataID == "" {
		return PaymentWebhookResult{}, NewHTTPError(http.StatusBadRequest, "data.id is required")
	}

	payment, err := u.gateway.GetPayment(ctx, dataID)
	if errors.Is(err, gateway.ErrPaymentNotFound) {
		u.logger.WarnContext(ctx, "webhook for unknown payment", slog.String("payment_id", dataID))
		return PaymentWebhookResult{Reason: "payment not found"}, nil
	}
	if err != nil {
		return PaymentWebhookResult{}, err
	}

	order, err := u.locateOrder(ctx, payment)
	if errors.Is(err, repo.ErrNotFound) {
		u.logger.WarnContext(ctx, "webhook for unknown order",
			slog.String("payment_id", payment.ID),
			slog.String("external_reference", payment.ExternalReference),
		)
		return PaymentWebhookResult{Reason: "order not found"}, nil
	}
	if err != nil {
		return PaymentWebhookResult{}, err
	}

	res, err := u.settlement.Apply(ctx, order.ID, payment, SourceWebhook)
	if err != nil {
		return PaymentWebhookResult{}, err
	}
	return PaymentWebhookResult{
		Handled: true,
		OrderID: res.OrderID,
		Outcome: res.Outcome,
	}, nil
}

// 支払いIDで探し、まだ付いていなければexternal_referenceから探す
func (u *PaymentWebhookUsecase) locateOrder(ctx context.Context, p model.GatewayPayment) (model.Order, error) {
	var out model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByPaymentID(ctx, p.ID)
		if err == nil {
			out = o
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		orderID, perr := model.ParseExternalReference(p.ExternalReference)
		if perr != nil {
			return repo.ErrNotFound
		}
		o, err = r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}
