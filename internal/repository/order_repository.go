package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page          int
	Limit         int
	Status        string
	PaymentStatus string
	UserID        *int64
	From          *time.Time
	To            *time.Time
}

// ポーラー・監査ジョブ用の走査条件
type OrderScanFilter struct {
	Statuses        []model.OrderStatus
	PaymentStatuses []model.PaymentStatus
	CreatedFrom     *time.Time
	CreatedBefore   *time.Time
	AfterID         int64 // このidより後ろ（id昇順のページング）
	Limit           int
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	//行ロック付き（SELECT ... FOR UPDATE）。Tx内でのみ使う
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error)

	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
	Scan(ctx context.Context, f OrderScanFilter) ([]model.Order, error)

	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
	//fromのどれかにいるときだけtoへ進める。進めたらtrue（一方通行のゲート）
	AdvanceStatus(ctx context.Context, orderID int64, from []model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error)

	//paymentIDがnilならクリア
	UpdatePayment(ctx context.Context, orderID int64, status model.PaymentStatus, paymentID *string) error
	SetFraudStatus(ctx context.Context, orderID int64, status model.FraudStatus) error
	SetShippingCost(ctx context.Context, orderID int64, cost model.Money) error
}
