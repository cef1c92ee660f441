package usecase

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"
)

const (
	JobReconcilePayments = "reconcile-payments"
	JobAuditConsistency  = "audit-consistency"

	MaintenanceFlag = "maintenance"
)

// 定期ジョブの実行窓口。HTTPトリガーとCLIの両方から呼ぶ。
// 同じジョブは全インスタンスで同時に1つだけ走る
type JobRunner struct {
	poller    *ReconciliationUsecase
	auditor   *ConsistencyAuditUsecase
	locker    JobLocker
	flags     FlagStore
	auditRepo repo.AuditLogRepository
	lockTTL   time.Duration
	clock     Clock
	logger    *slog.Logger
}

func NewJobRunner(
	poller *ReconciliationUsecase,
	auditor *ConsistencyAuditUsecase,
	locker JobLocker,
	flags FlagStore,
	auditRepo repo.AuditLogRepository,
	lockTTL time.Duration,
	clock Clock,
	logger *slog.Logger,
) *JobRunner {
	return &JobRunner{
		poller:    poller,
		auditor:   auditor,
		locker:    locker,
		flags:     flags,
		auditRepo: auditRepo,
		lockTTL:   lockTTL,
		clock:     clock,
		logger:    logger,
	}
}

func (j *JobRunner) RunReconciliation(ctx context.Context) (ReconcileSummary, error) {
	var out ReconcileSummary
	err := j.run(ctx, JobReconcilePayments, func(ctx context.Context) error {
		var err error
		out, err = j.poller.RunOnce(ctx)
		return err
	})
	return out, err
}

func (j *JobRunner) RunAudit(ctx context.Context) (AuditReport, error) {
	var out AuditReport
	err := j.run(ctx, JobAuditConsistency, func(ctx context.Context) error {
		var err error
		out, err = j.auditor.Run(ctx)
		return err
	})
	return out, err
}

func (j *JobRunner) run(ctx context.Context, name string, fn func(context.Context) error) error {
	on, err := j.flags.IsSet(ctx, MaintenanceFlag)
	if err != nil {
		return NewHTTPError(http.StatusServiceUnavailable, "flag store unavailable")
	}
	if on {
		return NewHTTPError(http.StatusServiceUnavailable, "maintenance mode")
	}

	release, ok, err := j.locker.TryLock(ctx, name, j.lockTTL)
	if err != nil {
		return NewHTTPError(http.StatusServiceUnavailable, "job lock unavailable")
	}
	if !ok {
		return NewHTTPError(http.StatusConflict, "job already running")
	}
	defer release()

	started := j.clock.Now()
	j.logger.InfoContext(ctx, "job started", slog.String("job", name))
	if err := fn(ctx); err != nil {
		j.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.logger.InfoContext(ctx, "job finished",
		slog.String("job", name),
		slog.Duration("elapsed", j.clock.Now().Sub(started)),
	)
	return nil
}

type MaintenanceInput struct {
	Enabled bool
	//0以下なら解除まで無期限
	TTL time.Duration
}

// メンテナンス中は定期ジョブを止める
func (j *JobRunner) SetMaintenance(ctx context.Context, actorAdminUserID int64, in MaintenanceInput) error {
	if actorAdminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.TTL < 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid ttl")
	}

	ttl := time.Duration(0)
	if in.Enabled {
		ttl = in.TTL
		if ttl == 0 {
			ttl = 24 * time.Hour * 365
		}
	}
	if err := j.flags.Set(ctx, MaintenanceFlag, ttl); err != nil {
		return NewHTTPError(http.StatusServiceUnavailable, "flag store unavailable")
	}

	after := `{"maintenance":false}`
	if in.Enabled {
		after = `{"maintenance":true,"ttl":"` + ttl.String() + `"}`
	}
	if err := j.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  actorAdminUserID,
		Action:       model.AuditActionSetMaintenance,
		ResourceType: model.AuditResourceSystem,
		ResourceID:   0,
		AfterJSON:    after,
		CreatedAt:    j.clock.Now(),
	}); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

func (j *JobRunner) Maintenance(ctx context.Context) (bool, error) {
	on, err := j.flags.IsSet(ctx, MaintenanceFlag)
	if err != nil {
		return false, NewHTTPError(http.StatusServiceUnavailable, "flag store unavailable")
	}
	return on, nil
}
