package usecase

import (
	"errors"
	"fmt"

	"payrecon/internal/config"
	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
)

var ErrNegativeRevenue = errors.New("seller revenue would be negative")

// 明細ごとの手数料と販売者の取り分を計算する。
// 計算結果は初回承認時に明細へ固定し、以後は再計算しない。
type CommissionCalculator struct {
	defaultSellerRate   decimal.Decimal
	defaultSupplierRate decimal.Decimal
}

func NewCommissionCalculator(rules config.Rules) *CommissionCalculator {
	return &CommissionCalculator{
		defaultSellerRate:   rules.DefaultSellerCommissionRate,
		defaultSupplierRate: rules.DefaultSupplierCommissionRate,
	}
}

func (c *CommissionCalculator) Calculate(item model.OrderItem, product model.Product) (repo.CommissionBreakdown, error) {
	if item.Quantity <= 0 {
		return repo.CommissionBreakdown{}, fmt.Errorf("order item %d: quantity must be positive", item.ID)
	}
	itemTotal := model.RoundMoney(item.Total())

	switch item.ItemType {
	case model.ItemTypeDropshipping:
		return c.dropshipping(item, product, itemTotal)
	case model.ItemTypeStock, "":
		return c.stock(product, itemTotal), nil
	default:
		return repo.CommissionBreakdown{}, fmt.Errorf("order item %d: unknown item type %q", item.ID, item.ItemType)
	}
}

// 在庫販売: 販売者がプラットフォームに手数料を払う
func (c *CommissionCalculator) stock(product model.Product, itemTotal decimal.Decimal) repo.CommissionBreakdown {
	rate := c.defaultSellerRate
	if product.CommissionRate.Valid {
		rate = product.CommissionRate.Decimal
	}
	commission := model.RoundMoney(itemTotal.Mul(rate))
	return repo.CommissionBreakdown{
		CommissionRate:   rate,
		CommissionAmount: commission,
		SellerRevenue:    itemTotal.Sub(commission),
	}
}

// ドロップシッピング: 販売者は上乗せ分と、仕入れ原価に対する手数料を受け取る
func (c *CommissionCalculator) dropshipping(item model.OrderItem, product model.Product, itemTotal decimal.Decimal) (repo.CommissionBreakdown, error) {
	rate := c.defaultSupplierRate
	if product.SupplierCommissionRate.Valid {
		rate = product.SupplierCommissionRate.Decimal
	}
	baseCost := model.RoundMoney(product.SupplierBaseCost.Mul(decimal.NewFromInt(item.Quantity)))
	commission := model.RoundMoney(baseCost.Mul(rate))
	markup := itemTotal.Sub(baseCost)

	revenue := markup.Add(commission)
	if revenue.IsNegative() {
		return repo.CommissionBreakdown{}, fmt.Errorf("order item %d: %w", item.ID, ErrNegativeRevenue)
	}
	return repo.CommissionBreakdown{
		CommissionRate:   rate,
		CommissionAmount: commission,
		SellerRevenue:    revenue,
	}, nil
}
