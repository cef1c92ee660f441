package repository

import (
	"context"

	"payrecon/internal/domain/model"
)

// 認証情報は持たない。管理者トークンの失効確認と購入者の存在確認に使う
type UserRepository interface {
	// いなければ nil, nil
	FindByID(ctx context.Context, userID int64) (*model.User, error)
}
