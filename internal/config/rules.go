package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// 照合エンジンの業務ルール（YAMLで上書きできる）
type Rules struct {
	//在庫販売で販売者が払う手数料率の既定値
	DefaultSellerCommissionRate decimal.Decimal `yaml:"default_seller_commission_rate"`
	//ドロップシッピングで販売者が受け取る手数料率の既定値
	DefaultSupplierCommissionRate decimal.Decimal `yaml:"default_supplier_commission_rate"`

	//この値以上は不正審査が必要
	FraudScoreThreshold decimal.Decimal `yaml:"fraud_score_threshold"`

	AbandonAfter   time.Duration `yaml:"abandon_after"`
	PollWindow     time.Duration `yaml:"poll_window"`
	PollRatePerSec float64       `yaml:"poll_rate_per_sec"`
	AuditLookback  time.Duration `yaml:"audit_lookback"`
	ScanLimit      int           `yaml:"scan_limit"` // 1ページの件数

	//この割合以上返金したらrefunded扱い
	FullRefundRatio decimal.Decimal `yaml:"full_refund_ratio"`

	SignatureTolerance time.Duration `yaml:"signature_tolerance"`

	//決済代行APIの呼び出し上限（全インスタンス合計、1分あたり）
	GatewayCallsPerMinute int           `yaml:"gateway_calls_per_minute"`
	JobLockTTL            time.Duration `yaml:"job_lock_ttl"`
}

func DefaultRules() Rules {
	return Rules{
		DefaultSellerCommissionRate:   decimal.RequireFromString("0.15"),
		DefaultSupplierCommissionRate: decimal.RequireFromString("0.10"),
		FraudScoreThreshold:           decimal.NewFromInt(70),
		AbandonAfter:                  48 * time.Hour,
		PollWindow:                    48 * time.Hour,
		PollRatePerSec:                2,
		AuditLookback:                 30 * 24 * time.Hour,
		ScanLimit:                     500,
		FullRefundRatio:               decimal.RequireFromString("0.95"),
		SignatureTolerance:            5 * time.Minute,
		GatewayCallsPerMinute:         600,
		JobLockTTL:                    10 * time.Minute,
	}
}

// pathが空、またはファイルが無いときは既定値
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return rules, nil
	}
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	//書かれた項目だけ既定値を上書き
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	one := decimal.NewFromInt(1)
	if r.DefaultSellerCommissionRate.IsNegative() || r.DefaultSellerCommissionRate.GreaterThan(one) {
		return fmt.Errorf("default_seller_commission_rate must be within 0..1")
	}
	if r.DefaultSupplierCommissionRate.IsNegative() || r.DefaultSupplierCommissionRate.GreaterThan(one) {
		return fmt.Errorf("default_supplier_commission_rate must be within 0..1")
	}
	if !r.FullRefundRatio.IsPositive() || r.FullRefundRatio.GreaterThan(one) {
		return fmt.Errorf("full_refund_ratio must be within (0,1]")
	}
	if r.AbandonAfter <= 0 || r.PollWindow <= 0 || r.AuditLookback <= 0 {
		return fmt.Errorf("abandon_after, poll_window and audit_lookback must be positive")
	}
	if r.PollRatePerSec <= 0 {
		return fmt.Errorf("poll_rate_per_sec must be positive")
	}
	return nil
}
