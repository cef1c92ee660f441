package repository

import (
	"context"

	"payrecon/internal/domain/model"
)

type RefundRepository interface {
	Create(ctx context.Context, r model.Refund) (model.Refund, error)
	FindByID(ctx context.Context, refundID int64) (model.Refund, error)
	Update(ctx context.Context, r model.Refund) error
	SumByOrder(ctx context.Context, orderID int64, statuses []model.RefundStatus) (model.Money, error)
	ListByOrder(ctx context.Context, orderID int64) ([]model.Refund, error)
	ListByStatus(ctx context.Context, status model.RefundStatus, afterID int64, limit int) ([]model.Refund, error)
}
