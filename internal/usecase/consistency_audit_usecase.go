package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/shopspring/decimal"
)

// 監査で見つかる不整合の種類
const (
	IssueStuckApproved         = "stuck_approved"
	IssueMissingSaleCredit     = "missing_sale_credit"
	IssueAbandoned             = "abandoned"
	IssueFraudReviewMissing    = "fraud_review_missing"
	IssueMissingItems          = "missing_items"
	IssueMissingBuyer          = "missing_buyer"
	IssueDropshipMissingSeller = "dropship_missing_seller"
	IssueMissingShipping       = "missing_shipping"
	IssuePendingRefund         = "pending_refund"
	IssueBalanceDrift          = "balance_drift"
)

type AuditIssue struct {
	Issue     string `json:"issue"`
	OrderID   int64  `json:"order_id,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	RefundID  int64  `json:"refund_id,omitempty"`
	ItemID    int64  `json:"item_id,omitempty"`
	Fixed     bool   `json:"fixed"`
	Error     string `json:"error,omitempty"` // 修復に失敗した理由
	Detail    string `json:"detail,omitempty"`
}

type AuditReport struct {
	TotalChecked int          `json:"total_checked"`
	IssuesFound  int          `json:"issues_found"`
	IssuesFixed  int          `json:"issues_fixed"`
	Issues       []AuditIssue `json:"issues"`
}

func (r *AuditReport) add(issue AuditIssue) {
	r.IssuesFound++
	if issue.Fixed {
		r.IssuesFixed++
	}
	r.Issues = append(r.Issues, issue)
}

type AuditOptions struct {
	Lookback       time.Duration
	AbandonAfter   time.Duration
	FraudThreshold decimal.Decimal
	ScanLimit      int
}

type PendingRefundRetrier interface {
	RetryPendingRefund(ctx context.Context, refundID int64) (model.Refund, error)
}

// 整合性チェックと自動修復。
// 修復は精算サービス・台帳・返金フローを通すので、何度流しても同じ結果に収束する。
type ConsistencyAuditUsecase struct {
	tx         repo.TransactionManager
	settlement *SettlementService
	refunds    PendingRefundRetrier
	opts       AuditOptions
	clock      Clock
	logger     *slog.Logger
}

func NewConsistencyAuditUsecase(
	tx repo.TransactionManager,
	settlement *SettlementService,
	refunds PendingRefundRetrier,
	opts AuditOptions,
	clock Clock,
	logger *slog.Logger,
) *ConsistencyAuditUsecase {
	return &ConsistencyAuditUsecase{
		tx:         tx,
		settlement: settlement,
		refunds:    refunds,
		opts:       opts,
		clock:      clock,
		logger:     logger,
	}
}

type auditRun struct {
	report  AuditReport
	checked map[string]struct{}
}

func (a *auditRun) seen(kind string, id int64) {
	a.checked[fmt.Sprintf("%s:%d", kind, id)] = struct{}{}
}

// 全ルールを順に流す。DBの読み取りに失敗したらそこで止めて途中までの結果を返す
func (u *ConsistencyAuditUsecase) Run(ctx context.Context) (AuditReport, error) {
	run := &auditRun{
		report:  AuditReport{Issues: []AuditIssue{}},
		checked: map[string]struct{}{},
	}

	steps := []struct {
		name string
		fn   func(context.Context, *auditRun) error
	}{
		{"stuck_approved", u.checkStuckApproved},
		{"fraud_review", u.checkFraudReview},
		{"order_structure", u.checkOrderStructure},
		{"sale_credits", u.checkSaleCredits},
		{"abandoned", u.checkAbandoned},
		{"pending_refunds", u.checkPendingRefunds},
		{"balances", u.checkBalances},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return u.finish(run), err
		}
		if err := s.fn(ctx, run); err != nil {
			u.logger.ErrorContext(ctx, "audit step failed",
				slog.String("step", s.name),
				slog.String("error", err.Error()),
			)
			return u.finish(run), fmt.Errorf("audit %s: %w", s.name, err)
		}
	}

	report := u.finish(run)
	u.logger.InfoContext(ctx, "consistency audit finished",
		slog.Int("total_checked", report.TotalChecked),
		slog.Int("issues_found", report.IssuesFound),
		slog.Int("issues_fixed", report.IssuesFixed),
	)
	return report, nil
}

func (u *ConsistencyAuditUsecase) finish(run *auditRun) AuditReport {
	run.report.TotalChecked = len(run.checked)
	return run.report
}

// 条件に合う注文をid順に最後まで読む。ScanLimitは1ページの件数
func (u *ConsistencyAuditUsecase) scan(ctx context.Context, f repo.OrderScanFilter) ([]model.Order, error) {
	if f.Limit == 0 {
		f.Limit = u.opts.ScanLimit
	}
	var all []model.Order
	for {
		var page []model.Order
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			page, err = r.Orders().Scan(ctx, f)
			return err
		})
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		f.AfterID = page[len(page)-1].ID
	}
}

func (u *ConsistencyAuditUsecase) lookbackFrom() *time.Time {
	from := u.clock.Now().Add(-u.opts.Lookback)
	return &from
}

// 支払い承認済みなのにPENDINGのまま（不正審査待ちは除く）
func (u *ConsistencyAuditUsecase) checkStuckApproved(ctx context.Context, run *auditRun) error {
	orders, err := u.scan(ctx, repo.OrderScanFilter{
		Statuses:        []model.OrderStatus{model.OrderStatusPending},
		PaymentStatuses: []model.PaymentStatus{model.PaymentStatusApproved},
		CreatedFrom:     u.lookbackFrom(),
	})
	if err != nil {
		return err
	}
	for _, o := range orders {
		run.seen("order", o.ID)
		if u.fraudHeld(o) {
			continue
		}
		issue := AuditIssue{Issue: IssueStuckApproved, OrderID: o.ID}
		res, err := u.settlement.AdvanceApproved(ctx, o.ID, SourceAuditor)
		switch {
		case err != nil:
			issue.Error = err.Error()
		case res.Outcome == OutcomeApproved:
			issue.Fixed = true
		default:
			issue.Detail = "outcome: " + string(res.Outcome)
		}
		run.report.add(issue)
	}
	return nil
}

// 審査が必要なスコアなのに審査ステータスが無い
func (u *ConsistencyAuditUsecase) checkFraudReview(ctx context.Context, run *auditRun) error {
	orders, err := u.scan(ctx, repo.OrderScanFilter{
		Statuses:    []model.OrderStatus{model.OrderStatusPending, model.OrderStatusProcessing},
		CreatedFrom: u.lookbackFrom(),
	})
	if err != nil {
		return err
	}
	for _, o := range orders {
		run.seen("order", o.ID)
		if o.FraudStatus != nil || !o.FraudScoreAtLeast(u.opts.FraudThreshold) {
			continue
		}
		issue := AuditIssue{Issue: IssueFraudReviewMissing, OrderID: o.ID}
		if o.Status != model.OrderStatusPending {
			issue.Detail = "order already processing; manual review required"
			run.report.add(issue)
			continue
		}
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			locked, err := r.Orders().FindByIDForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if locked.FraudStatus != nil {
				return nil
			}
			return r.Orders().SetFraudStatus(ctx, o.ID, model.FraudStatusPendingReview)
		})
		if err != nil {
			issue.Error = err.Error()
		} else {
			issue.Fixed = true
		}
		run.report.add(issue)
	}
	return nil
}

// 明細・購入者・ドロップシッピングの販売者・送料
func (u *ConsistencyAuditUsecase) checkOrderStructure(ctx context.Context, run *auditRun) error {
	orders, err := u.scan(ctx, repo.OrderScanFilter{
		Statuses: []model.OrderStatus{
			model.OrderStatusPending, model.OrderStatusProcessing,
			model.OrderStatusShipped, model.OrderStatusDelivered,
		},
		CreatedFrom: u.lookbackFrom(),
	})
	if err != nil {
		return err
	}

	for _, o := range orders {
		run.seen("order", o.ID)

		var items []model.OrderItem
		var buyer *model.User
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			if items, err = r.OrderItems().ListByOrderID(ctx, o.ID); err != nil {
				return err
			}
			buyer, err = r.Users().FindByID(ctx, o.UserID)
			return err
		})
		if err != nil {
			return err
		}

		if buyer == nil {
			run.report.add(AuditIssue{Issue: IssueMissingBuyer, OrderID: o.ID, Detail: "manual review required"})
		}
		if len(items) == 0 {
			run.report.add(AuditIssue{Issue: IssueMissingItems, OrderID: o.ID, Detail: "manual review required"})
			continue
		}

		for _, it := range items {
			if it.ItemType != model.ItemTypeDropshipping || it.SellerID != nil {
				continue
			}
			run.report.add(u.assignDropshipSeller(ctx, o.ID, it))
		}

		if !o.ShippingCost.Valid {
			run.report.add(u.fillShippingCost(ctx, o, items))
		}
	}
	return nil
}

// 商品の販売者を明細に入れる
func (u *ConsistencyAuditUsecase) assignDropshipSeller(ctx context.Context, orderID int64, it model.OrderItem) AuditIssue {
	issue := AuditIssue{Issue: IssueDropshipMissingSeller, OrderID: orderID, ItemID: it.ID}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		product, err := r.Products().FindByID(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if product.SellerID <= 0 {
			return errors.New("product has no seller")
		}
		_, err = r.OrderItems().AssignSeller(ctx, it.ID, product.SellerID)
		return err
	})
	if err != nil {
		issue.Error = err.Error()
		return issue
	}
	issue.Fixed = true
	return issue
}

// 送料 = 合計 - 明細合計
func (u *ConsistencyAuditUsecase) fillShippingCost(ctx context.Context, o model.Order, items []model.OrderItem) AuditIssue {
	issue := AuditIssue{Issue: IssueMissingShipping, OrderID: o.ID}
	itemsTotal := decimal.Zero
	for _, it := range items {
		itemsTotal = itemsTotal.Add(it.Total())
	}
	shipping := model.RoundMoney(o.Total.Sub(itemsTotal))
	if shipping.IsNegative() {
		issue.Detail = "items exceed order total"
		return issue
	}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Orders().SetShippingCost(ctx, o.ID, shipping)
	})
	if err != nil {
		issue.Error = err.Error()
		return issue
	}
	issue.Fixed = true
	return issue
}

// 精算済みの注文で、販売者ごとのSALEが揃っているか
func (u *ConsistencyAuditUsecase) checkSaleCredits(ctx context.Context, run *auditRun) error {
	orders, err := u.scan(ctx, repo.OrderScanFilter{
		Statuses: []model.OrderStatus{
			model.OrderStatusProcessing, model.OrderStatusShipped, model.OrderStatusDelivered,
		},
		CreatedFrom: u.lookbackFrom(),
	})
	if err != nil {
		return err
	}

	for _, o := range orders {
		run.seen("order", o.ID)
		missing, err := u.missingSaleCredit(ctx, o.ID)
		if err != nil {
			return err
		}
		if !missing {
			continue
		}

		issue := AuditIssue{Issue: IssueMissingSaleCredit, OrderID: o.ID}
		res, err := u.settlement.CreditMissingSales(ctx, o.ID, SourceAuditor)
		switch {
		case err != nil:
			issue.Error = err.Error()
		case res.Outcome == OutcomeCredited:
			issue.Fixed = true
		default:
			issue.Detail = "outcome: " + string(res.Outcome)
		}
		run.report.add(issue)
	}
	return nil
}

func (u *ConsistencyAuditUsecase) missingSaleCredit(ctx context.Context, orderID int64) (bool, error) {
	missing := false
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		//販売者ごとに、手数料未確定の明細があるか・確定済みの取り分の合計
		unfrozen := map[int64]bool{}
		revenue := map[int64]decimal.Decimal{}
		var sellers []int64
		for _, it := range items {
			if it.RefundedAt != nil || it.SellerID == nil {
				continue
			}
			id := *it.SellerID
			if _, ok := revenue[id]; !ok {
				sellers = append(sellers, id)
				revenue[id] = decimal.Zero
			}
			if !it.CommissionFrozen() {
				unfrozen[id] = true
				continue
			}
			revenue[id] = revenue[id].Add(it.SellerRevenue.Decimal)
		}

		for _, sellerID := range sellers {
			//未固定の明細は入金されていない
			if unfrozen[sellerID] {
				missing = true
				return nil
			}
			if !revenue[sellerID].IsPositive() {
				continue
			}
			acct, err := r.Accounts().FindByOwner(ctx, model.AccountOwnerSeller, sellerID)
			if errors.Is(err, repo.ErrNotFound) {
				missing = true
				return nil
			}
			if err != nil {
				return err
			}
			ok, err := r.Transactions().ExistsForOrder(ctx, acct.ID, orderID, model.TransactionTypeSale)
			if err != nil {
				return err
			}
			if !ok {
				missing = true
				return nil
			}
		}
		return nil
	})
	return missing, err
}

// 支払いが無いまま一定時間たったPENDING注文はキャンセルする
func (u *ConsistencyAuditUsecase) checkAbandoned(ctx context.Context, run *auditRun) error {
	before := u.clock.Now().Add(-u.opts.AbandonAfter)
	orders, err := u.scan(ctx, repo.OrderScanFilter{
		Statuses: []model.OrderStatus{model.OrderStatusPending},
		PaymentStatuses: []model.PaymentStatus{
			model.PaymentStatusPending, model.PaymentStatusRejected, model.PaymentStatusCancelled,
		},
		CreatedBefore: &before,
	})
	if err != nil {
		return err
	}

	for _, o := range orders {
		run.seen("order", o.ID)
		issue := AuditIssue{Issue: IssueAbandoned, OrderID: o.ID}
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			locked, err := r.Orders().FindByIDForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if locked.PaymentStatus == model.PaymentStatusApproved {
				return errors.New("payment approved meanwhile")
			}
			won, err := r.Orders().AdvanceStatus(ctx, o.ID,
				[]model.OrderStatus{model.OrderStatusPending}, model.OrderStatusCancelled, u.clock.Now())
			if err != nil {
				return err
			}
			if !won {
				return errors.New("order no longer pending")
			}
			if locked.PaymentStatus == model.PaymentStatusPending {
				if err := r.Orders().UpdatePayment(ctx, o.ID, model.PaymentStatusCancelled, locked.PaymentID); err != nil {
					return err
				}
			}
			return restockItems(ctx, r, o.ID, nil)
		})
		if err != nil {
			issue.Error = err.Error()
		} else {
			issue.Fixed = true
		}
		run.report.add(issue)
	}
	return nil
}

// PENDINGのまま残った返金を再送する
func (u *ConsistencyAuditUsecase) checkPendingRefunds(ctx context.Context, run *auditRun) error {
	var pending []model.Refund
	var afterID int64
	for {
		var page []model.Refund
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			page, err = r.Refunds().ListByStatus(ctx, model.RefundStatusPending, afterID, u.opts.ScanLimit)
			return err
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		pending = append(pending, page...)
		afterID = page[len(page)-1].ID
	}

	for _, rf := range pending {
		run.seen("refund", rf.ID)
		issue := AuditIssue{Issue: IssuePendingRefund, OrderID: rf.OrderID, RefundID: rf.ID}
		got, err := u.refunds.RetryPendingRefund(ctx, rf.ID)
		switch {
		case err != nil:
			issue.Error = err.Error()
		case got.Status == model.RefundStatusApproved:
			issue.Fixed = true
		case got.Status == model.RefundStatusPending:
			issue.Detail = "payment gateway has not confirmed the refund"
		default:
			issue.Detail = "refund " + string(got.Status)
		}
		run.report.add(issue)
	}
	return nil
}

// 残高が取引ログの合計と一致するか（検出のみ）
func (u *ConsistencyAuditUsecase) checkBalances(ctx context.Context, run *auditRun) error {
	const page = 200
	for offset := 0; ; offset += page {
		var accounts []model.SellerAccount
		drifts := []AuditIssue{}
		err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			var err error
			accounts, err = r.Accounts().List(ctx, page, offset)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				derived, err := r.Transactions().SumCompleted(ctx, a.ID)
				if err != nil {
					return err
				}
				if !derived.Equal(a.Balance) {
					drifts = append(drifts, AuditIssue{
						Issue:     IssueBalanceDrift,
						AccountID: a.ID,
						Detail: fmt.Sprintf("stored %s, derived %s",
							a.Balance.StringFixed(model.MoneyScale), derived.StringFixed(model.MoneyScale)),
					})
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, a := range accounts {
			run.seen("account", a.ID)
		}
		for _, d := range drifts {
			u.logger.ErrorContext(ctx, "balance drift detected",
				slog.Int64("account_id", d.AccountID),
				slog.String("detail", d.Detail),
			)
			run.report.add(d)
		}
		if len(accounts) < page {
			return nil
		}
	}
}

// 不正審査で止めている注文か
func (u *ConsistencyAuditUsecase) fraudHeld(o model.Order) bool {
	if !o.FraudScore.Valid {
		return false
	}
	if o.FraudStatus != nil {
		return *o.FraudStatus != model.FraudStatusApproved
	}
	return o.FraudScoreAtLeast(u.opts.FraudThreshold)
}
