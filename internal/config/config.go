package config

import (
	"fmt"
	"os"
	"strconv"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	JWTSecret string // 管理者JWT署名シークレット

	GoEnv string // dev/prod

	PaymentAPIBaseURL  string // 決済代行APIのベースURL
	PaymentAccessToken string // 決済代行のアクセストークン

	WebhookSecret            string // 通知署名の共有シークレット
	WebhookSignatureRequired bool   // シークレット未設定でも署名を必須にするか
	WebhookAckOnError        bool   // 内部エラーでも200を返すか（再送の嵐を避ける）

	JobSecret     string // ジョブ起動用のbearerトークン
	JobSecretHash string // 上のbcryptハッシュ（こちらがあれば優先）

	RedisURL string // 空ならプロセス内の状態で動く

	Rules Rules
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: os.Getenv("PORT"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv: os.Getenv("GO_ENV"),

		PaymentAPIBaseURL:  os.Getenv("PAYMENT_API_BASE_URL"),
		PaymentAccessToken: os.Getenv("PAYMENT_ACCESS_TOKEN"),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		JobSecret:     os.Getenv("JOB_SECRET"),
		JobSecretHash: os.Getenv("JOB_SECRET_HASH"),

		RedisURL: os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.WebhookSignatureRequired, err = envBool("WEBHOOK_SIGNATURE_REQUIRED", true); err != nil {
		return Config{}, err
	}
	if cfg.WebhookAckOnError, err = envBool("WEBHOOK_ACK_ON_ERROR", true); err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}
	if cfg.PaymentAPIBaseURL == "" {
		return Config{}, fmt.Errorf("PAYMENT_API_BASE_URL is required")
	}
	if cfg.PaymentAccessToken == "" {
		return Config{}, fmt.Errorf("PAYMENT_ACCESS_TOKEN is required")
	}
	if cfg.JobSecret == "" && cfg.JobSecretHash == "" {
		return Config{}, fmt.Errorf("JOB_SECRET or JOB_SECRET_HASH is required")
	}

	rules, err := LoadRules(os.Getenv("RULES_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Rules = rules

	return cfg, nil
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be bool: %w", key, err)
	}
	return b, nil
}
