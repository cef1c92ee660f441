package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"gorm.io/gorm"
)

type OrderItemGormRepository struct {
	db *gorm.DB
}

func NewOrderItemGormRepository(db *gorm.DB) *OrderItemGormRepository {
	return &OrderItemGormRepository{db: db}
}

func (r *OrderItemGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&items).Error
	if err != nil {
		return []model.OrderItem{}, err
	}
	return items, nil
}

// seller_revenueがnullの明細だけ更新する（確定後は不変）
func (r *OrderItemGormRepository) FreezeCommission(ctx context.Context, itemID int64, b repo.CommissionBreakdown) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Where("id = ? AND seller_revenue IS NULL", itemID).
		Updates(map[string]interface{}{
			"commission_rate":   b.CommissionRate,
			"commission_amount": b.CommissionAmount,
			"seller_revenue":    b.SellerRevenue,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *OrderItemGormRepository) MarkRefunded(ctx context.Context, itemIDs []int64, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Where("id IN ? AND refunded_at IS NULL", itemIDs).
		Update("refunded_at", at).Error
}

func (r *OrderItemGormRepository) AssignSeller(ctx context.Context, itemID int64, sellerID int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Where("id = ? AND seller_id IS NULL", itemID).
		Update("seller_id", sellerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
