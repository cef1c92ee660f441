package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", orderID))
}

func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID))
}

func (r *OrderGormRepository) FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("payment_id = ?", paymentID))
}

func (r *OrderGormRepository) first(q *gorm.DB) (model.Order, error) {
	var o model.Order
	err := q.First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	//status 絞り込み
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}

	//user_id 絞り込み
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

// id昇順で1ページ分返す。続きは最後のidをAfterIDに入れて呼ぶ
func (r *OrderGormRepository) Scan(ctx context.Context, f repo.OrderScanFilter) ([]model.Order, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.PaymentStatuses) > 0 {
		q = q.Where("payment_status IN ?", f.PaymentStatuses)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.AfterID > 0 {
		q = q.Where("id > ?", f.AfterID)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	var orders []model.Order
	if err := q.Order("id asc").Limit(limit).Find(&orders).Error; err != nil {
		return []model.Order{}, err
	}
	return orders, nil
}

func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("status", status)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 条件付きUPDATE。同時に来ても1件しか勝たない
func (r *OrderGormRepository) AdvanceStatus(ctx context.Context, orderID int64, from []model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error) {
	values := map[string]interface{}{"status": to}
	switch to {
	case model.OrderStatusProcessing:
		values["paid_at"] = at
	case model.OrderStatusShipped:
		values["shipped_at"] = at
	case model.OrderStatusDelivered:
		values["delivered_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *OrderGormRepository) UpdatePayment(ctx context.Context, orderID int64, status model.PaymentStatus, paymentID *string) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_status": status,
			"payment_id":     paymentID,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return repo.ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) SetFraudStatus(ctx context.Context, orderID int64, status model.FraudStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("fraud_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) SetShippingCost(ctx context.Context, orderID int64, cost model.Money) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND shipping_cost IS NULL", orderID).
		Update("shipping_cost", cost)
	if res.Error != nil {
		return res.Error
	}
	return nil
}
