package repository

import (
	"context"

	"payrecon/internal/domain/model"
)

// 追記のみ。UpdateやDeleteは用意しない
type AccountTransactionRepository interface {
	Create(ctx context.Context, t model.AccountTransaction) (model.AccountTransaction, error)
	ListByAccountID(ctx context.Context, accountID int64, limit int, offset int) ([]model.AccountTransaction, int64, error)
	//COMPLETEDの合計（残高の再計算）
	SumCompleted(ctx context.Context, accountID int64) (model.Money, error)
	ExistsForOrder(ctx context.Context, accountID int64, orderID int64, txType model.TransactionType) (bool, error)
}
