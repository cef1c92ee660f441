package usecase

import (
	"context"
	"time"

	"payrecon/internal/domain/model"

	"github.com/shopspring/decimal"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// 決済代行（外部）
type PaymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error)
	SearchPayments(ctx context.Context, q model.PaymentSearchQuery) ([]model.GatewayPayment, error)
	CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (model.GatewayRefund, error)
}

// 複数インスタンスで共有するロック（TTL付き）
type JobLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// TTL付きのフラグ（メンテナンスモード）
type FlagStore interface {
	IsSet(ctx context.Context, name string) (bool, error)
	Set(ctx context.Context, name string, ttl time.Duration) error
}
