package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID int64           `gorm:"not null;index" json:"seller_id"`
	Name     string          `gorm:"type:varchar(255);not null" json:"name"`
	Price    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"price"`
	Stock    int64           `gorm:"not null" json:"stock"`
	IsActive bool            `gorm:"not null;default:false" json:"is_active"`

	//販売者が払う手数料率（nullなら既定値）
	CommissionRate decimal.NullDecimal `gorm:"type:numeric(6,4)" json:"commission_rate"`

	//ドロップシッピング元の商品
	SourceProductID        *int64              `gorm:"index" json:"source_product_id"`
	SupplierBaseCost       decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"supplier_base_cost"`
	SupplierCommissionRate decimal.NullDecimal `gorm:"type:numeric(6,4)" json:"supplier_commission_rate"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
