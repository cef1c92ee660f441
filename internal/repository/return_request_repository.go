package repository

import (
	"context"

	"payrecon/internal/domain/model"
)

type ReturnRequestRepository interface {
	FindByIDForUpdate(ctx context.Context, returnID int64) (model.ReturnRequest, error)
	Update(ctx context.Context, rr model.ReturnRequest) error
}
