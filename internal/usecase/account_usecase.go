package usecase

import (
	"context"
	"errors"
	"net/http"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
)

type AccountUsecase struct {
	tx repo.TransactionManager
}

func NewAccountUsecase(tx repo.TransactionManager) *AccountUsecase {
	return &AccountUsecase{tx: tx}
}

type StatementOutput struct {
	Account      model.SellerAccount        `json:"account"`
	Transactions []model.AccountTransaction `json:"transactions"`
	Total        int64                      `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
}

type BalanceCheckOutput struct {
	AccountID      int64           `json:"account_id"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
	DerivedBalance decimal.Decimal `json:"derived_balance"`
	Consistent     bool            `json:"consistent"`
}

func (u *AccountUsecase) Get(ctx context.Context, accountID int64) (model.SellerAccount, error) {
	if accountID <= 0 {
		return model.SellerAccount{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var out model.SellerAccount
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a, err := r.Accounts().FindByID(ctx, accountID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = a
		return nil
	})
	if err != nil {
		return model.SellerAccount{}, err
	}
	return out, nil
}

// 取引ログ（新しい順）
func (u *AccountUsecase) Statement(ctx context.Context, accountID int64, page int, limit int) (StatementOutput, error) {
	if accountID <= 0 {
		return StatementOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if page < 1 {
		return StatementOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return StatementOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	out := StatementOutput{Page: page, Limit: limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a, err := r.Accounts().FindByID(ctx, accountID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		txs, total, err := r.Transactions().ListByAccountID(ctx, accountID, limit, (page-1)*limit)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out.Account = a
		out.Transactions = txs
		out.Total = total
		return nil
	})
	if err != nil {
		return StatementOutput{}, err
	}
	return out, nil
}

// 残高を取引ログから再計算して突き合わせる
func (u *AccountUsecase) VerifyBalance(ctx context.Context, accountID int64) (BalanceCheckOutput, error) {
	if accountID <= 0 {
		return BalanceCheckOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var out BalanceCheckOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a, err := r.Accounts().FindByID(ctx, accountID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		derived, err := r.Transactions().SumCompleted(ctx, accountID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = BalanceCheckOutput{
			AccountID:      a.ID,
			StoredBalance:  a.Balance,
			DerivedBalance: derived,
			Consistent:     derived.Equal(a.Balance),
		}
		return nil
	})
	if err != nil {
		return BalanceCheckOutput{}, err
	}
	return out, nil
}
