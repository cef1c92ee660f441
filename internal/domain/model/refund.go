package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "PENDING"
	RefundStatusApproved RefundStatus = "APPROVED"
	RefundStatusFailed   RefundStatus = "FAILED"
)

// 返金。決済代行が確定するまではPENDINGで残し、後で再送する。
type Refund struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         int64           `gorm:"not null;index" json:"order_id"`
	ReturnRequestID *int64          `gorm:"index" json:"return_request_id"`
	PaymentID       string          `gorm:"type:varchar(64);not null" json:"payment_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Reason          string          `gorm:"type:varchar(255);not null" json:"reason"`

	//返金対象の注文明細ID（JSON配列）
	ItemIDs datatypes.JSON `gorm:"type:jsonb" json:"item_ids"`

	GatewayRefundID *string      `gorm:"type:varchar(64)" json:"gateway_refund_id"`
	IdempotencyKey  string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Status          RefundStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	//決済代行のエラー（管理者のみ閲覧）
	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	ApprovedAt *time.Time `json:"approved_at"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
