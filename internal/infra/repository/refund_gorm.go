package repository

import (
	"context"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RefundGormRepository struct {
	db *gorm.DB
}

func NewRefundGormRepository(db *gorm.DB) *RefundGormRepository {
	return &RefundGormRepository{db: db}
}

func (r *RefundGormRepository) Create(ctx context.Context, rf model.Refund) (model.Refund, error) {
	if err := r.db.WithContext(ctx).Create(&rf).Error; err != nil {
		if isUniqueViolation(err) {
			return model.Refund{}, repo.ErrDuplicate
		}
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) FindByID(ctx context.Context, refundID int64) (model.Refund, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).Where("id = ?", refundID).First(&rf).Error
	if isNotFound(err) {
		return model.Refund{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) Update(ctx context.Context, rf model.Refund) error {
	res := r.db.WithContext(ctx).Model(&model.Refund{}).
		Where("id = ?", rf.ID).
		Updates(map[string]interface{}{
			"status":            rf.Status,
			"gateway_refund_id": rf.GatewayRefundID,
			"last_error":        rf.LastError,
			"approved_at":       rf.ApprovedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) SumByOrder(ctx context.Context, orderID int64, statuses []model.RefundStatus) (model.Money, error) {
	var sum decimal.Decimal
	row := r.db.WithContext(ctx).Model(&model.Refund{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("order_id = ? AND status IN ?", orderID, statuses).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *RefundGormRepository) ListByStatus(ctx context.Context, status model.RefundStatus, afterID int64, limit int) ([]model.Refund, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}
	var rows []model.Refund
	if err := q.Order("id asc").Limit(limit).Find(&rows).Error; err != nil {
		return []model.Refund{}, err
	}
	return rows, nil
}

func (r *RefundGormRepository) ListByOrder(ctx context.Context, orderID int64) ([]model.Refund, error) {
	var rows []model.Refund
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error; err != nil {
		return []model.Refund{}, err
	}
	return rows, nil
}
