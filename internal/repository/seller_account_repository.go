package repository

import (
	"context"
	"time"

	"payrecon/internal/domain/model"
)

// 残高の書き込みはLedgerWriterからだけ呼ぶ
type SellerAccountRepository interface {
	FindByID(ctx context.Context, accountID int64) (model.SellerAccount, error)
	//行ロック付き
	FindByIDForUpdate(ctx context.Context, accountID int64) (model.SellerAccount, error)
	FindByOwner(ctx context.Context, ownerType model.AccountOwnerType, ownerID int64) (model.SellerAccount, error)
	//既にあれば既存を返す
	CreateIfAbsent(ctx context.Context, account model.SellerAccount) (model.SellerAccount, error)
	UpdateBalances(ctx context.Context, accountID int64, balance model.Money, totalReceived model.Money, at time.Time) error
	List(ctx context.Context, limit int, offset int) ([]model.SellerAccount, error)
}
