package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeSale        TransactionType = "SALE"
	TransactionTypeCredit      TransactionType = "CREDIT"
	TransactionTypeWithdrawal  TransactionType = "WITHDRAWAL"
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
	TransactionTypeBonus       TransactionType = "BONUS"
	TransactionTypeAdjustment  TransactionType = "ADJUSTMENT"
)

// 入金系（正の金額のみ）
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypeSale, TransactionTypeCredit, TransactionTypeBonus:
		return true
	}
	return false
}

// 出金系（正の金額で受けて、負で記録する）
func (t TransactionType) IsDebit() bool {
	return t == TransactionTypeWithdrawal || t == TransactionTypeTransferOut
}

func (t TransactionType) Valid() bool {
	return t.IsCredit() || t.IsDebit() || t == TransactionTypeAdjustment
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// 口座取引ログ。追記のみで、更新・削除はしない（監査証跡）。
// BalanceAfter = BalanceBefore + Amount
type AccountTransaction struct {
	ID        int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64             `gorm:"not null;index" json:"account_id"`
	Type      TransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Status    TransactionStatus `gorm:"type:varchar(20);not null" json:"status"`

	//符号付き
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_after"`

	Description string `gorm:"type:varchar(255);not null" json:"description"`
	OrderID     *int64 `gorm:"index" json:"order_id"`
	RefundID    *int64 `gorm:"index" json:"refund_id"`

	//どのコンポーネントが書いたか（webhook / poller / auditor / refund）
	Component string `gorm:"type:varchar(30);not null" json:"component"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
