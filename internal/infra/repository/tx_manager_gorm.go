package repository

import (
	"context"

	repo "payrecon/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders       repo.OrderRepository
	orderItems   repo.OrderItemRepository
	products     repo.ProductRepository
	inventory    repo.InventoryRepository
	accounts     repo.SellerAccountRepository
	transactions repo.AccountTransactionRepository
	refunds      repo.RefundRepository
	returns      repo.ReturnRequestRepository
	users        repo.UserRepository
	auditLogs    repo.AuditLogRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                    { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository            { return r.orderItems }
func (r *txReposGorm) Products() repo.ProductRepository                { return r.products }
func (r *txReposGorm) Inventory() repo.InventoryRepository             { return r.inventory }
func (r *txReposGorm) Accounts() repo.SellerAccountRepository          { return r.accounts }
func (r *txReposGorm) Transactions() repo.AccountTransactionRepository { return r.transactions }
func (r *txReposGorm) Refunds() repo.RefundRepository                  { return r.refunds }
func (r *txReposGorm) Returns() repo.ReturnRequestRepository           { return r.returns }
func (r *txReposGorm) Users() repo.UserRepository                      { return r.users }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository              { return r.auditLogs }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:       NewOrderGormRepository(tx),
			orderItems:   NewOrderItemGormRepository(tx),
			products:     NewProductGormRepository(tx),
			inventory:    NewInventoryGormRepository(tx),
			accounts:     NewSellerAccountGormRepository(tx),
			transactions: NewAccountTransactionGormRepository(tx),
			refunds:      NewRefundGormRepository(tx),
			returns:      NewReturnRequestGormRepository(tx),
			users:        NewUserGormRepository(tx),
			auditLogs:    NewAuditLogGormRepository(tx),
		}
		return fn(r)
	})
}
