package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusPending AccountStatus = "PENDING"
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusBlocked AccountStatus = "BLOCKED"
)

type AccountOwnerType string

const (
	AccountOwnerSeller    AccountOwnerType = "SELLER"
	AccountOwnerAffiliate AccountOwnerType = "AFFILIATE"
)

type KYCStatus string

const (
	KYCStatusNotStarted KYCStatus = "NOT_STARTED"
	KYCStatusPending    KYCStatus = "PENDING"
	KYCStatusVerified   KYCStatus = "VERIFIED"
)

// 販売者（またはアフィリエイト）の口座。
// Balanceは取引ログ（COMPLETED）の合計のキャッシュで、ログから再計算できること。
type SellerAccount struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID       int64            `gorm:"not null;uniqueIndex:idx_account_owner" json:"owner_id"`
	OwnerType     AccountOwnerType `gorm:"type:varchar(20);not null;uniqueIndex:idx_account_owner" json:"owner_type"`
	AccountNumber string           `gorm:"type:varchar(32);not null;uniqueIndex" json:"account_number"`

	Balance        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"balance"`
	BlockedBalance decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"blocked_balance"`
	TotalReceived  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total_received"`

	Status    AccountStatus `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	KYCStatus KYCStatus     `gorm:"type:varchar(20);not null;default:'NOT_STARTED'" json:"kyc_status"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
