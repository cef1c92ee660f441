package model

import (
	"time"

	"gorm.io/datatypes"
)

type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "PENDING"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusRejected  ReturnStatus = "REJECTED"
	ReturnStatusCompleted ReturnStatus = "COMPLETED"
)

// 返品申請。返金は商品の受領確認（検品）が済んでから。
type ReturnRequest struct {
	ID      int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64          `gorm:"not null;index" json:"order_id"`
	ItemIDs datatypes.JSON `gorm:"type:jsonb;not null" json:"item_ids"`
	Reason  string         `gorm:"type:varchar(255);not null" json:"reason"`
	Status  ReturnStatus   `gorm:"type:varchar(20);not null;index" json:"status"`

	AdminNotes      string `gorm:"type:text" json:"admin_notes"`
	ProductReceived bool   `gorm:"not null;default:false" json:"product_received"`

	ReviewedBy *int64     `json:"reviewed_by"`
	ReviewedAt *time.Time `json:"reviewed_at"`
	RefundID   *int64     `json:"refund_id"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
