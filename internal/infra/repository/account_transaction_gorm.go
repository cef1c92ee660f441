package repository

import (
	"context"

	"payrecon/internal/domain/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 取引ログは追記のみ
type AccountTransactionGormRepository struct {
	db *gorm.DB
}

func NewAccountTransactionGormRepository(db *gorm.DB) *AccountTransactionGormRepository {
	return &AccountTransactionGormRepository{db: db}
}

func (r *AccountTransactionGormRepository) Create(ctx context.Context, t model.AccountTransaction) (model.AccountTransaction, error) {
	if err := r.db.WithContext(ctx).Create(&t).Error; err != nil {
		return model.AccountTransaction{}, err
	}
	return t, nil
}

func (r *AccountTransactionGormRepository) ListByAccountID(ctx context.Context, accountID int64, limit int, offset int) ([]model.AccountTransaction, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("account_id = ?", accountID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.AccountTransaction{}, 0, err
	}

	var rows []model.AccountTransaction
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return []model.AccountTransaction{}, 0, err
	}
	return rows, total, nil
}

func (r *AccountTransactionGormRepository) SumCompleted(ctx context.Context, accountID int64) (model.Money, error) {
	var sum decimal.Decimal
	row := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND status = ?", accountID, model.TransactionStatusCompleted).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *AccountTransactionGormRepository) ExistsForOrder(ctx context.Context, accountID int64, orderID int64, txType model.TransactionType) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).
		Where("account_id = ? AND order_id = ? AND type = ? AND status = ?", accountID, orderID, txType, model.TransactionStatusCompleted).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
