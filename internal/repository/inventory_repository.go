package repository

import "context"

type InventoryRepository interface {
	// 在庫戻し（キャンセル・返品）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error
}
