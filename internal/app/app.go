package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"payrecon/internal/config"
	"payrecon/internal/infra/cache"
	"payrecon/internal/infra/db"
	"payrecon/internal/infra/gateway"
	infraRepo "payrecon/internal/infra/repository"
	"payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App はAPIサーバとCLIが共有する部品一式
type App struct {
	Config config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	UserRepo  repository.UserRepository
	AuditRepo repository.AuditLogRepository

	Webhook    *usecase.PaymentWebhookUsecase
	Settlement *usecase.SettlementService
	Poller     *usecase.ReconciliationUsecase
	Auditor    *usecase.ConsistencyAuditUsecase
	Refunds    *usecase.RefundUsecase
	Orders     *usecase.AdminOrderUsecase
	Accounts   *usecase.AccountUsecase
	Jobs       *usecase.JobRunner
}

// NewLogger は本番ではJSON、それ以外はテキストで出す
func NewLogger(cfg config.Config) *slog.Logger {
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Build はDB・Redis・決済代行に接続して組み立てる。closeは逆順に閉じる
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, func(), error) {
	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}

	//Redisが無ければプロセス内の状態で動く（単一インスタンス向け）
	var (
		budget gateway.CallBudget
		locker usecase.JobLocker
		flags  usecase.FlagStore
	)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		budget = cache.NewRedisCallBudget(rdb, cfg.Rules.GatewayCallsPerMinute)
		locker = cache.NewRedisJobLock(rdb)
		flags = cache.NewRedisFlagStore(rdb)
	} else {
		logger.WarnContext(ctx, "REDIS_URL not set; using in-process locks and flags")
		budget = cache.NewLocalCallBudget(cfg.Rules.GatewayCallsPerMinute)
		locker = cache.NewLocalJobLock()
		flags = cache.NewLocalFlagStore()
	}

	a := Wire(cfg, logger, gormDB, gateway.NewClient(cfg.PaymentAPIBaseURL, cfg.PaymentAccessToken, budget), locker, flags)
	return a, closeAll, nil
}

// Wire は接続済みの部品からusecaseを組み立てる
func Wire(
	cfg config.Config,
	logger *slog.Logger,
	gormDB *gorm.DB,
	gw usecase.PaymentGateway,
	locker usecase.JobLocker,
	flags usecase.FlagStore,
) *App {
	clock := usecase.SystemClock{}
	rules := cfg.Rules

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)

	//Usecase生成
	ledger := usecase.NewLedgerWriter(txm, clock, logger)
	commission := usecase.NewCommissionCalculator(rules)
	settlement := usecase.NewSettlementService(txm, ledger, commission, rules.FraudScoreThreshold, clock, logger)

	verifier := usecase.NewSignatureVerifier(cfg.WebhookSecret, cfg.WebhookSignatureRequired, rules.SignatureTolerance, clock)
	webhook := usecase.NewPaymentWebhookUsecase(txm, gw, verifier, settlement, logger)

	poller := usecase.NewReconciliationUsecase(txm, gw, settlement, usecase.ReconcileOptions{
		Window:     rules.PollWindow,
		ScanLimit:  rules.ScanLimit,
		RatePerSec: rules.PollRatePerSec,
	}, clock, logger)

	refunds := usecase.NewRefundUsecase(txm, gw, ledger, usecase.RefundOptions{
		FullRefundRatio: rules.FullRefundRatio,
	}, clock, logger)

	auditor := usecase.NewConsistencyAuditUsecase(txm, settlement, refunds, usecase.AuditOptions{
		Lookback:       rules.AuditLookback,
		AbandonAfter:   rules.AbandonAfter,
		FraudThreshold: rules.FraudScoreThreshold,
		ScanLimit:      rules.ScanLimit,
	}, clock, logger)

	jobs := usecase.NewJobRunner(poller, auditor, locker, flags, auditRepo, rules.JobLockTTL, clock, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		DB:         gormDB,
		UserRepo:   userRepo,
		AuditRepo:  auditRepo,
		Webhook:    webhook,
		Settlement: settlement,
		Poller:     poller,
		Auditor:    auditor,
		Refunds:    refunds,
		Orders:     usecase.NewAdminOrderUsecase(txm, auditRepo, clock),
		Accounts:   usecase.NewAccountUsecase(txm),
		Jobs:       jobs,
	}
}
