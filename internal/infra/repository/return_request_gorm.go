package repository

import (
	"context"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReturnRequestGormRepository struct {
	db *gorm.DB
}

func NewReturnRequestGormRepository(db *gorm.DB) *ReturnRequestGormRepository {
	return &ReturnRequestGormRepository{db: db}
}

func (r *ReturnRequestGormRepository) FindByIDForUpdate(ctx context.Context, returnID int64) (model.ReturnRequest, error) {
	var rr model.ReturnRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", returnID).
		First(&rr).Error
	if isNotFound(err) {
		return model.ReturnRequest{}, repo.ErrNotFound
	}
	if err != nil {
		return model.ReturnRequest{}, err
	}
	return rr, nil
}

func (r *ReturnRequestGormRepository) Update(ctx context.Context, rr model.ReturnRequest) error {
	res := r.db.WithContext(ctx).Model(&model.ReturnRequest{}).
		Where("id = ?", rr.ID).
		Updates(map[string]interface{}{
			"status":           rr.Status,
			"admin_notes":      rr.AdminNotes,
			"product_received": rr.ProductReceived,
			"reviewed_by":      rr.ReviewedBy,
			"reviewed_at":      rr.ReviewedAt,
			"refund_id":        rr.RefundID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
