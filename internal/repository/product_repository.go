package repository

import (
	"context"

	"payrecon/internal/domain/model"
)

type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
