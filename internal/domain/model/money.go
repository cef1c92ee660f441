package model

import "github.com/shopspring/decimal"

// 金額は単一通貨の固定小数点（小数2桁）
type Money = decimal.Decimal

const MoneyScale = 2

// 小数2桁に四捨五入
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

func NullMoney(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}
