package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
)

// 確定した手数料の内訳
type CommissionBreakdown struct {
	CommissionRate   model.Money
	CommissionAmount model.Money
	SellerRevenue    model.Money
}

type OrderItemRepository interface {
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	//未確定のときだけ書く。書いたらtrue
	FreezeCommission(ctx context.Context, itemID int64, b CommissionBreakdown) (bool, error)
	//refunded_atが空の明細だけ
	MarkRefunded(ctx context.Context, itemIDs []int64, at time.Time) error
	//seller_idが空のときだけ
	AssignSeller(ctx context.Context, itemID int64, sellerID int64) (bool, error)
}
