package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 決済代行側の支払いステータス
type GatewayStatus string

const (
	GatewayStatusApproved    GatewayStatus = "approved"
	GatewayStatusPending     GatewayStatus = "pending"
	GatewayStatusInProcess   GatewayStatus = "in_process"
	GatewayStatusAuthorized  GatewayStatus = "authorized"
	GatewayStatusRejected    GatewayStatus = "rejected"
	GatewayStatusCancelled   GatewayStatus = "cancelled"
	GatewayStatusRefunded    GatewayStatus = "refunded"
	GatewayStatusChargedBack GatewayStatus = "charged_back"
)

// まだ結果待ちのステータス
func (s GatewayStatus) InFlight() bool {
	return s == GatewayStatusPending || s == GatewayStatusInProcess || s == GatewayStatusAuthorized
}

// 決済代行から取得した正の支払い情報（通知本文は信用しない）
type GatewayPayment struct {
	ID                string
	Status            GatewayStatus
	Amount            decimal.Decimal
	Method            string
	ExternalReference string
	CreatedAt         time.Time
}

type GatewayRefund struct {
	ID     string
	Status GatewayStatus
	Amount decimal.Decimal
}

type PaymentSearchQuery struct {
	ExternalReference string
	From              *time.Time
	To                *time.Time
}
