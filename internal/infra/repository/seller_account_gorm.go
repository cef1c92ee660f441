package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SellerAccountGormRepository struct {
	db *gorm.DB
}

func NewSellerAccountGormRepository(db *gorm.DB) *SellerAccountGormRepository {
	return &SellerAccountGormRepository{db: db}
}

func (r *SellerAccountGormRepository) FindByID(ctx context.Context, accountID int64) (model.SellerAccount, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", accountID))
}

// 残高の読み取り→更新はこの行ロックの中で行う
func (r *SellerAccountGormRepository) FindByIDForUpdate(ctx context.Context, accountID int64) (model.SellerAccount, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID))
}

func (r *SellerAccountGormRepository) FindByOwner(ctx context.Context, ownerType model.AccountOwnerType, ownerID int64) (model.SellerAccount, error) {
	return r.first(r.db.WithContext(ctx).Where("owner_type = ? AND owner_id = ?", ownerType, ownerID))
}

func (r *SellerAccountGormRepository) first(q *gorm.DB) (model.SellerAccount, error) {
	var a model.SellerAccount
	err := q.First(&a).Error
	if isNotFound(err) {
		return model.SellerAccount{}, repo.ErrNotFound
	}
	if err != nil {
		return model.SellerAccount{}, err
	}
	return a, nil
}

// (owner_type, owner_id) が既にあれば作らずに既存を返す。
// 一意制約エラーでTxを壊さないようON CONFLICT DO NOTHINGにする
func (r *SellerAccountGormRepository) CreateIfAbsent(ctx context.Context, account model.SellerAccount) (model.SellerAccount, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "owner_type"}},
			DoNothing: true,
		}).
		Create(&account).Error
	if err != nil {
		if isUniqueViolation(err) {
			return model.SellerAccount{}, repo.ErrDuplicate
		}
		return model.SellerAccount{}, err
	}
	return r.FindByOwner(ctx, account.OwnerType, account.OwnerID)
}

func (r *SellerAccountGormRepository) UpdateBalances(ctx context.Context, accountID int64, balance model.Money, totalReceived model.Money, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.SellerAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":        balance,
			"total_received": totalReceived,
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *SellerAccountGormRepository) List(ctx context.Context, limit int, offset int) ([]model.SellerAccount, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	var accounts []model.SellerAccount
	if err := r.db.WithContext(ctx).Order("id asc").Limit(limit).Offset(offset).Find(&accounts).Error; err != nil {
		return []model.SellerAccount{}, err
	}
	return accounts, nil
}
