package repository

import "context"

// トランザクション内で使う約束
type TxRepos interface {
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Accounts() SellerAccountRepository
	Transactions() AccountTransactionRepository
	Refunds() RefundRepository
	Returns() ReturnRequestRepository
	Users() UserRepository
	AuditLogs() AuditLogRepository
}

// UsecaseからTxの開始/commit/rollbackを隠す。
// 残高の単一書き込みはDBのトランザクション分離と行ロックで守る（プロセス内ロックではない）。
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
