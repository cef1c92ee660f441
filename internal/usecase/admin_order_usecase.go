package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
)

type AdminOrderUsecase struct {
	tx        repo.TransactionManager
	auditRepo repo.AuditLogRepository
	clock     Clock
}

func NewAdminOrderUsecase(tx repo.TransactionManager, auditRepo repo.AuditLogRepository, clock Clock) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, auditRepo: auditRepo, clock: clock}
}

type AdminUpdateOrderStatusInput struct {
	Status string
}

type OrderItemOutput struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	SellerID      *int64           `json:"seller_id"`
	ItemType      string           `json:"item_type"`
	Name          string           `json:"name"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Quantity      int64            `json:"quantity"`
	SellerRevenue *decimal.Decimal `json:"seller_revenue,omitempty"`
	Refunded      bool             `json:"refunded"`
}

type OrderOutput struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	PaymentID     *string           `json:"payment_id"`
	FraudStatus   *string           `json:"fraud_status"`
	Total         decimal.Decimal   `json:"total"`
	ShippingCost  *decimal.Decimal  `json:"shipping_cost"`
	PaidAt        *time.Time        `json:"paid_at"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []OrderItemOutput `json:"items"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) ([]OrderOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *AdminOrderUsecase) Get(ctx context.Context, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 発送・配達の更新。PROCESSINGは精算でしか入らず、キャンセルは返金フローを通す
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) error {
	if actorAdminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	newStatus := model.OrderStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	var from []model.OrderStatus
	switch newStatus {
	case model.OrderStatusShipped:
		from = []model.OrderStatus{model.OrderStatusProcessing}
	case model.OrderStatusDelivered:
		from = []model.OrderStatus{model.OrderStatusShipped}
	case model.OrderStatusProcessing:
		return NewPreconditionError(http.StatusConflict, "processing is set by payment settlement only", PreconditionPaymentApproved)
	case model.OrderStatusCancelled:
		return NewHTTPError(http.StatusBadRequest, "use the cancel endpoint to cancel an order")
	default:
		return NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 注文取得
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// すでに同じなら何もしない（200）
		if o.Status == newStatus {
			return nil
		}
		// 終端ガード
		if o.Status == model.OrderStatusCancelled {
			return NewHTTPError(http.StatusBadRequest, "cannot change cancelled order")
		}

		won, err := r.Orders().AdvanceStatus(ctx, orderID, from, newStatus, u.clock.Now())
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !won {
			return NewHTTPError(http.StatusConflict, "cannot change order from "+string(o.Status)+" to "+string(newStatus))
		}

		// ★監査ログ（UPDATE_ORDER_STATUS）
		beforeJSON := `{"status":"` + string(o.Status) + `"}`
		afterJSON := `{"status":"` + string(newStatus) + `"}`
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   beforeJSON,
			AfterJSON:    afterJSON,
			CreatedAt:    u.clock.Now(),
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		return nil
	})
}

func (u *AdminOrderUsecase) ListAuditLogs(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	if f.Limit < 1 || f.Limit > 200 {
		return []model.AuditLog{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Offset < 0 {
		return []model.AuditLog{}, NewHTTPError(http.StatusBadRequest, "invalid offset")
	}
	logs, err := u.auditRepo.List(ctx, f)
	if err != nil {
		return []model.AuditLog{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return logs, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	out := OrderOutput{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentID:     o.PaymentID,
		Total:         o.Total,
		PaidAt:        o.PaidAt,
		CreatedAt:     o.CreatedAt,
		Items:         make([]OrderItemOutput, 0, len(items)),
	}
	if o.FraudStatus != nil {
		s := string(*o.FraudStatus)
		out.FraudStatus = &s
	}
	if o.ShippingCost.Valid {
		c := o.ShippingCost.Decimal
		out.ShippingCost = &c
	}
	for _, it := range items {
		io := OrderItemOutput{
			ID:        it.ID,
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			ItemType:  string(it.ItemType),
			Name:      it.ProductNameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			Refunded:  it.RefundedAt != nil,
		}
		if it.SellerRevenue.Valid {
			rev := it.SellerRevenue.Decimal
			io.SellerRevenue = &rev
		}
		out.Items = append(out.Items, io)
	}
	return out
}

// 期間パラメータでtime.Timeが必要なら、handlerでtime.Parseしてここに入れる
func ParseDateTimeRFC3339(s string) (*time.Time, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}
