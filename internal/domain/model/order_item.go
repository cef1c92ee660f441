package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 在庫販売か、ドロップシッピングか。注文明細作成時に一度だけ決める。
type ItemType string

const (
	ItemTypeStock        ItemType = "STOCK"
	ItemTypeDropshipping ItemType = "DROPSHIPPING"
)

// 注文明細。価格・販売者・手数料はスナップショットで、後から再計算しない。
type OrderItem struct {
	ID        int64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64    `gorm:"not null;index" json:"order_id"`
	ProductID int64    `gorm:"not null;index" json:"product_id"`
	SellerID  *int64   `gorm:"index" json:"seller_id"`
	ItemType  ItemType `gorm:"type:varchar(20);not null;default:'STOCK'" json:"item_type"`

	ProductNameSnapshot string          `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	UnitPriceSnapshot   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price_snapshot"`
	Quantity            int64           `gorm:"not null" json:"quantity"`

	//初回の支払い承認時に確定。一度入ったら変えない
	CommissionRate   decimal.NullDecimal `gorm:"type:numeric(6,4)" json:"commission_rate"`
	CommissionAmount decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"commission_amount"`
	SellerRevenue    decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"seller_revenue"`

	RefundedAt *time.Time `json:"refunded_at"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (it OrderItem) Total() decimal.Decimal {
	return it.UnitPriceSnapshot.Mul(decimal.NewFromInt(it.Quantity))
}

func (it OrderItem) CommissionFrozen() bool {
	return it.SellerRevenue.Valid
}
