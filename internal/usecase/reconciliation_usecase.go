package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payrecon/internal/domain/model"
	"payrecon/internal/infra/gateway"
	repo "payrecon/internal/repository"

	"golang.org/x/time/rate"
)

type ReconcileSummary struct {
	Checked  int `json:"checked"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
	//同じ注文に承認済みの支払いが複数あった件数
	Duplicates int `json:"duplicates"`
}

type ReconcileOptions struct {
	Window    time.Duration
	ScanLimit int
	//決済代行への問い合わせ間隔（件/秒）
	RatePerSec float64
}

// 通知が来なかった支払いを拾うポーラー。
// 期間内のPENDING注文を1件ずつ決済代行に問い合わせ、精算サービスに渡す。
type ReconciliationUsecase struct {
	tx         repo.TransactionManager
	gateway    PaymentGateway
	settlement *SettlementService
	opts       ReconcileOptions
	clock      Clock
	logger     *slog.Logger
}

func NewReconciliationUsecase(
	tx repo.TransactionManager,
	gw PaymentGateway,
	settlement *SettlementService,
	opts ReconcileOptions,
	clock Clock,
	logger *slog.Logger,
) *ReconciliationUsecase {
	return &ReconciliationUsecase{
		tx:         tx,
		gateway:    gw,
		settlement: settlement,
		opts:       opts,
		clock:      clock,
		logger:     logger,
	}
}

// 1回分の走査。1件の失敗では止めず、ctxのキャンセルでだけ途中終了する
func (u *ReconciliationUsecase) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary

	now := u.clock.Now()
	from := now.Add(-u.opts.Window)
	filter := repo.OrderScanFilter{
		Statuses:      []model.OrderStatus{model.OrderStatusPending},
		CreatedFrom:   &from,
		CreatedBefore: &now,
		Limit:         u.opts.ScanLimit,
	}

	limit := rate.Inf
	if u.opts.RatePerSec > 0 {
		limit = rate.Limit(u.opts.RatePerSec)
	}
	limiter := rate.NewLimiter(limit, 1)

	//ScanLimitごとにページを読み、空になるまで続ける
	for {
		var orders []model.Order
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			orders, err = r.Orders().Scan(ctx, filter)
			return err
		})
		if err != nil {
			return sum, err
		}
		if len(orders) == 0 {
			break
		}
		filter.AfterID = orders[len(orders)-1].ID

		for _, o := range orders {
			if err := limiter.Wait(ctx); err != nil {
				return sum, err
			}
			u.reconcileOrder(ctx, o, &sum)
		}
	}

	u.logger.InfoContext(ctx, "reconciliation finished",
		slog.Int("checked", sum.Checked),
		slog.Int("approved", sum.Approved),
		slog.Int("rejected", sum.Rejected),
		slog.Int("pending", sum.Pending),
		slog.Int("errors", sum.Errors),
		slog.Int("duplicates", sum.Duplicates),
	)
	return sum, nil
}

func (u *ReconciliationUsecase) reconcileOrder(ctx context.Context, o model.Order, sum *ReconcileSummary) {
	sum.Checked++

	payment, found, dup, err := u.resolvePayment(ctx, o)
	if err != nil {
		sum.Errors++
		u.logger.WarnContext(ctx, "reconcile lookup failed",
			slog.Int64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if dup {
		sum.Duplicates++
		u.logger.ErrorContext(ctx, "multiple approved payments for order",
			slog.Int64("order_id", o.ID),
		)
	}
	if !found {
		sum.Pending++
		return
	}

	res, err := u.settlement.Apply(ctx, o.ID, payment, SourcePoller)
	if err != nil {
		sum.Errors++
		u.logger.WarnContext(ctx, "reconcile settlement failed",
			slog.Int64("order_id", o.ID),
			slog.String("payment_id", payment.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	switch res.Outcome {
	case OutcomeApproved:
		sum.Approved++
	case OutcomeRejected:
		sum.Rejected++
	case OutcomePending, OutcomeFraudHold:
		sum.Pending++
	default:
		sum.Skipped++
	}
}

// 注文に対応する支払いを1件に決める
func (u *ReconciliationUsecase) resolvePayment(ctx context.Context, o model.Order) (model.GatewayPayment, bool, bool, error) {
	if o.PaymentID != nil {
		p, err := u.gateway.GetPayment(ctx, *o.PaymentID)
		if err == nil {
			return p, true, false, nil
		}
		if !errors.Is(err, gateway.ErrPaymentNotFound) {
			return model.GatewayPayment{}, false, false, err
		}
	}

	candidates, err := u.gateway.SearchPayments(ctx, model.PaymentSearchQuery{
		ExternalReference: model.ExternalReference(o.ID),
	})
	if err != nil {
		return model.GatewayPayment{}, false, false, err
	}
	p, ok, dup := pickPayment(candidates)
	return p, ok, dup, nil
}

// 承認済み > 処理中 > その他 の順。同順位なら先頭（新しい順で来る）
func pickPayment(candidates []model.GatewayPayment) (model.GatewayPayment, bool, bool) {
	if len(candidates) == 0 {
		return model.GatewayPayment{}, false, false
	}
	rank := func(s model.GatewayStatus) int {
		switch {
		case s == model.GatewayStatusApproved:
			return 0
		case s.InFlight():
			return 1
		default:
			return 2
		}
	}

	best := 0
	approved := 0
	for i, c := range candidates {
		if c.Status == model.GatewayStatusApproved {
			approved++
		}
		if rank(c.Status) < rank(candidates[best].Status) {
			best = i
		}
	}
	return candidates[best], true, approved > 1
}
