package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
)

// 台帳に1件書くための入力。Amountは正の大きさ（ADJUSTMENTだけ符号付き）
type LedgerEntryInput struct {
	AccountID   int64
	Amount      decimal.Decimal
	Type        model.TransactionType
	Description string
	OrderID     *int64
	RefundID    *int64
	Component   string
}

// 口座残高を変更する唯一の入口。
// 口座行をFOR UPDATEでロックし、残高更新と取引ログの追記を同じTxで行う。
type LedgerWriter struct {
	tx     repo.TransactionManager
	clock  Clock
	logger *slog.Logger
}

func NewLedgerWriter(tx repo.TransactionManager, clock Clock, logger *slog.Logger) *LedgerWriter {
	return &LedgerWriter{tx: tx, clock: clock, logger: logger}
}

// 単独のTxで1件書く
func (w *LedgerWriter) ApplyLedgerEntry(ctx context.Context, in LedgerEntryInput) (model.AccountTransaction, error) {
	var out model.AccountTransaction
	err := w.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		t, err := w.ApplyInTx(ctx, r, in)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return model.AccountTransaction{}, err
	}
	return out, nil
}

// 呼び出し側のTxに参加して書く（精算・返金の取り消し）
func (w *LedgerWriter) ApplyInTx(ctx context.Context, r repo.TxRepos, in LedgerEntryInput) (model.AccountTransaction, error) {
	delta, err := signedAmount(in.Type, in.Amount)
	if err != nil {
		return model.AccountTransaction{}, err
	}

	acct, err := r.Accounts().FindByIDForUpdate(ctx, in.AccountID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.AccountTransaction{}, ErrAccountNotFound
	}
	if err != nil {
		return model.AccountTransaction{}, fmt.Errorf("lock account %d: %w", in.AccountID, err)
	}

	before := acct.Balance
	after := before.Add(delta)
	if in.Type.IsDebit() && after.IsNegative() {
		return model.AccountTransaction{}, ErrInsufficientBalance
	}

	totalReceived := acct.TotalReceived
	if in.Type == model.TransactionTypeSale || in.Type == model.TransactionTypeCredit {
		totalReceived = totalReceived.Add(delta)
	}

	now := w.clock.Now()
	if err := r.Accounts().UpdateBalances(ctx, acct.ID, after, totalReceived, now); err != nil {
		return model.AccountTransaction{}, fmt.Errorf("update balance %d: %w", acct.ID, err)
	}

	t, err := r.Transactions().Create(ctx, model.AccountTransaction{
		AccountID:     acct.ID,
		Type:          in.Type,
		Status:        model.TransactionStatusCompleted,
		Amount:        delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   in.Description,
		OrderID:       in.OrderID,
		RefundID:      in.RefundID,
		Component:     in.Component,
		CreatedAt:     now,
	})
	if err != nil {
		return model.AccountTransaction{}, fmt.Errorf("append transaction: %w", err)
	}

	w.logger.InfoContext(ctx, "ledger entry applied",
		slog.Int64("account_id", acct.ID),
		slog.String("type", string(in.Type)),
		slog.String("amount", delta.StringFixed(model.MoneyScale)),
		slog.String("balance_after", after.StringFixed(model.MoneyScale)),
		slog.String("component", in.Component),
	)
	return t, nil
}

// 種別ごとの符号ルール
func signedAmount(t model.TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	if !t.Valid() {
		return decimal.Zero, ErrInvalidEntryType
	}
	amount = model.RoundMoney(amount)
	switch {
	case t.IsCredit():
		if !amount.IsPositive() {
			return decimal.Zero, ErrInvalidAmount
		}
		return amount, nil
	case t.IsDebit():
		if !amount.IsPositive() {
			return decimal.Zero, ErrInvalidAmount
		}
		return amount.Neg(), nil
	default:
		if amount.IsZero() {
			return decimal.Zero, ErrInvalidAmount
		}
		return amount, nil
	}
}
