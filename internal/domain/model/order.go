package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// 決済代行側のステータスをそのまま写す
type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusApproved        PaymentStatus = "approved"
	PaymentStatusRejected        PaymentStatus = "rejected"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
	PaymentStatusRefunded        PaymentStatus = "refunded"
	PaymentStatusPartialRefunded PaymentStatus = "partial_refunded"
)

type FraudStatus string

const (
	FraudStatusPendingReview FraudStatus = "PENDING_REVIEW"
	FraudStatusApproved      FraudStatus = "APPROVED"
	FraudStatusRejected      FraudStatus = "REJECTED"
)

// 注文。削除はせず、ステータス遷移だけで更新する。
type Order struct {
	ID            int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64         `gorm:"not null;index" json:"user_id"`
	Status        OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(20);not null;index;default:'pending'" json:"payment_status"`

	//決済代行の支払いID（あるときだけユニーク）
	PaymentID *string `gorm:"type:varchar(64);uniqueIndex" json:"payment_id"`

	FraudScore  decimal.NullDecimal `gorm:"type:numeric(5,2)" json:"fraud_score"`
	FraudStatus *FraudStatus        `gorm:"type:varchar(20)" json:"fraud_status"`

	Total decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total"`
	//送料（未計算ならnull）
	ShippingCost decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"shipping_cost"`

	PaidAt      *time.Time `json:"paid_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 審査が必要なスコアか
func (o Order) FraudScoreAtLeast(threshold decimal.Decimal) bool {
	return o.FraudScore.Valid && o.FraudScore.Decimal.GreaterThanOrEqual(threshold)
}

// PROCESSINGにしてよい状態か
func (o Order) FraudCleared() bool {
	if !o.FraudScore.Valid {
		return true
	}
	return o.FraudStatus != nil && *o.FraudStatus == FraudStatusApproved
}

const externalReferencePrefix = "ORDER-"

// 決済代行に渡すexternal_reference
func ExternalReference(orderID int64) string {
	return externalReferencePrefix + strconv.FormatInt(orderID, 10)
}

func ParseExternalReference(ref string) (int64, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(ref), externalReferencePrefix)
	if !ok {
		return 0, fmt.Errorf("unknown external reference %q", ref)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid external reference %q", ref)
	}
	return id, nil
}
