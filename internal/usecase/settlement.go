package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 誰が精算を起動したか（取引ログのcomponentに残る）
const (
	SourceWebhook = "webhook"
	SourcePoller  = "poller"
	SourceAuditor = "auditor"
	SourceRefund  = "refund"
)

type SettlementOutcome string

const (
	//PENDING→PROCESSINGに進めて販売者へ入金した
	OutcomeApproved SettlementOutcome = "approved"
	//既に精算済み（重複通知など）
	OutcomeAlreadyApplied SettlementOutcome = "already_applied"
	//不正審査待ちで止めた
	OutcomeFraudHold SettlementOutcome = "fraud_hold"
	OutcomeRejected  SettlementOutcome = "rejected"
	OutcomePending   SettlementOutcome = "pending"
	OutcomeMirrored  SettlementOutcome = "mirrored"
	//足りなかったSALEだけ入金した
	OutcomeCredited SettlementOutcome = "credited"
	OutcomeIgnored  SettlementOutcome = "ignored"
)

type SellerCredit struct {
	SellerID      int64           `json:"seller_id"`
	AccountID     int64           `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID int64           `json:"transaction_id"`
}

type SettlementResult struct {
	OrderID int64             `json:"order_id"`
	Outcome SettlementOutcome `json:"outcome"`
	Credits []SellerCredit    `json:"credits,omitempty"`
}

// 支払い結果を注文と台帳に反映する。webhook・ポーラー・監査の3経路がすべてここを通る。
// 注文行をロックし、PENDING→PROCESSINGの条件付き更新に勝った1回だけが入金する。
type SettlementService struct {
	tx             repo.TransactionManager
	ledger         *LedgerWriter
	commission     *CommissionCalculator
	fraudThreshold decimal.Decimal
	clock          Clock
	logger         *slog.Logger
}

func NewSettlementService(
	tx repo.TransactionManager,
	ledger *LedgerWriter,
	commission *CommissionCalculator,
	fraudThreshold decimal.Decimal,
	clock Clock,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		tx:             tx,
		ledger:         ledger,
		commission:     commission,
		fraudThreshold: fraudThreshold,
		clock:          clock,
		logger:         logger,
	}
}

// 決済代行から取得した支払いを注文に適用する
func (s *SettlementService) Apply(ctx context.Context, orderID int64, p model.GatewayPayment, source string) (SettlementResult, error) {
	var res SettlementResult
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "order not found")
		}
		if err != nil {
			return err
		}

		switch {
		case p.Status == model.GatewayStatusApproved:
			//金額が違っても入金は止めない。手動照合用に残す
			if !p.Amount.Equal(o.Total) {
				s.logger.WarnContext(ctx, "payment amount differs from order total",
					slog.Int64("order_id", o.ID),
					slog.String("payment_id", p.ID),
					slog.String("payment_amount", p.Amount.StringFixed(model.MoneyScale)),
					slog.String("order_total", o.Total.StringFixed(model.MoneyScale)),
					slog.String("source", source),
				)
			}
			res, err = s.applyApproved(ctx, r, o, p.ID, source)
		case p.Status == model.GatewayStatusRejected || p.Status == model.GatewayStatusCancelled:
			res, err = s.applyFailed(ctx, r, o, p)
		case p.Status == model.GatewayStatusRefunded || p.Status == model.GatewayStatusChargedBack:
			res, err = s.applyReversed(ctx, r, o, p)
		case p.Status.InFlight():
			res, err = s.applyInFlight(ctx, r, o, p)
		default:
			s.logger.WarnContext(ctx, "unknown payment status",
				slog.Int64("order_id", o.ID),
				slog.String("payment_id", p.ID),
				slog.String("status", string(p.Status)),
			)
			res = SettlementResult{OrderID: o.ID, Outcome: OutcomeIgnored}
		}
		return err
	})
	if err != nil {
		return SettlementResult{}, err
	}

	s.logger.InfoContext(ctx, "payment settled",
		slog.Int64("order_id", orderID),
		slog.String("payment_id", p.ID),
		slog.String("payment_status", string(p.Status)),
		slog.String("outcome", string(res.Outcome)),
		slog.String("source", source),
		slog.Int("credits", len(res.Credits)),
	)
	return res, nil
}

// 支払い承認済みなのにPENDINGのまま残った注文を進める（監査ジョブ）
func (s *SettlementService) AdvanceApproved(ctx context.Context, orderID int64, source string) (SettlementResult, error) {
	var res SettlementResult
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentStatus != model.PaymentStatusApproved {
			res = SettlementResult{OrderID: o.ID, Outcome: OutcomeIgnored}
			return nil
		}
		res, err = s.applyApproved(ctx, r, o, "", source)
		return err
	})
	if err != nil {
		return SettlementResult{}, err
	}
	return res, nil
}

// 精算済みの注文で、SALEが無い販売者と手数料が未固定の明細の分を入金する（監査ジョブ）
func (s *SettlementService) CreditMissingSales(ctx context.Context, orderID int64, source string) (SettlementResult, error) {
	var res SettlementResult
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		res = SettlementResult{OrderID: o.ID}
		if !settled(o.Status) {
			res.Outcome = OutcomeIgnored
			return nil
		}
		credits, err := s.creditSellers(ctx, r, o, source, true)
		if err != nil {
			return err
		}
		res.Credits = credits
		res.Outcome = OutcomeAlreadyApplied
		if len(credits) > 0 {
			res.Outcome = OutcomeCredited
		}
		return nil
	})
	if err != nil {
		return SettlementResult{}, err
	}
	return res, nil
}

// paymentIDが空なら注文に付いている支払いIDのまま扱う
func (s *SettlementService) applyApproved(ctx context.Context, r repo.TxRepos, o model.Order, paymentID string, source string) (SettlementResult, error) {
	res := SettlementResult{OrderID: o.ID}

	//別の支払いが既に承認済み
	if paymentID != "" && o.PaymentID != nil && *o.PaymentID != paymentID && !awaitingApproval(o.PaymentStatus) {
		s.logger.ErrorContext(ctx, "possible duplicate charge",
			slog.Int64("order_id", o.ID),
			slog.String("current_payment_id", *o.PaymentID),
			slog.String("payment_id", paymentID),
		)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	newID := o.PaymentID
	if paymentID != "" {
		newID = &paymentID
	}
	newStatus := o.PaymentStatus
	if awaitingApproval(newStatus) {
		newStatus = model.PaymentStatusApproved
	}
	if newStatus != o.PaymentStatus || !samePaymentID(newID, o.PaymentID) {
		if err := r.Orders().UpdatePayment(ctx, o.ID, newStatus, newID); err != nil {
			return res, fmt.Errorf("update payment of order %d: %w", o.ID, err)
		}
		o.PaymentStatus, o.PaymentID = newStatus, newID
	}

	switch o.Status {
	case model.OrderStatusPending:
	case model.OrderStatusCancelled:
		if o.PaymentStatus == model.PaymentStatusApproved {
			s.logger.ErrorContext(ctx, "approved payment on cancelled order; refund required",
				slog.Int64("order_id", o.ID),
			)
		}
		res.Outcome = OutcomeIgnored
		return res, nil
	default:
		res.Outcome = OutcomeAlreadyApplied
		return res, nil
	}
	//返金済みの支払いで進めない
	if o.PaymentStatus != model.PaymentStatusApproved {
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	held, err := s.holdForFraud(ctx, r, o)
	if err != nil {
		return res, err
	}
	if held {
		res.Outcome = OutcomeFraudHold
		return res, nil
	}

	//一方通行のゲート。勝った1回だけが入金する
	won, err := r.Orders().AdvanceStatus(ctx, o.ID, []model.OrderStatus{model.OrderStatusPending}, model.OrderStatusProcessing, s.clock.Now())
	if err != nil {
		return res, fmt.Errorf("advance order %d: %w", o.ID, err)
	}
	if !won {
		res.Outcome = OutcomeAlreadyApplied
		return res, nil
	}
	o.Status = model.OrderStatusProcessing

	credits, err := s.creditSellers(ctx, r, o, source, false)
	if err != nil {
		return res, err
	}
	res.Outcome = OutcomeApproved
	res.Credits = credits
	return res, nil
}

// 不正スコアが閾値以上で未審査なら審査待ちにする。閾値未満は自動で承認
func (s *SettlementService) holdForFraud(ctx context.Context, r repo.TxRepos, o model.Order) (bool, error) {
	if !o.FraudScore.Valid {
		return false, nil
	}
	if o.FraudStatus != nil {
		return *o.FraudStatus != model.FraudStatusApproved, nil
	}

	status := model.FraudStatusApproved
	if o.FraudScoreAtLeast(s.fraudThreshold) {
		status = model.FraudStatusPendingReview
	}
	if err := r.Orders().SetFraudStatus(ctx, o.ID, status); err != nil {
		return false, fmt.Errorf("set fraud status of order %d: %w", o.ID, err)
	}
	if status == model.FraudStatusPendingReview {
		s.logger.WarnContext(ctx, "order held for fraud review",
			slog.Int64("order_id", o.ID),
			slog.String("fraud_score", o.FraudScore.Decimal.String()),
		)
		return true, nil
	}
	return false, nil
}

func (s *SettlementService) applyFailed(ctx context.Context, r repo.TxRepos, o model.Order, p model.GatewayPayment) (SettlementResult, error) {
	res := SettlementResult{OrderID: o.ID, Outcome: OutcomeIgnored}
	if o.Status != model.OrderStatusPending {
		return res, nil
	}
	//現在の試行ではない古い支払い
	if o.PaymentID != nil && *o.PaymentID != p.ID {
		return res, nil
	}

	status := model.PaymentStatusRejected
	if p.Status == model.GatewayStatusCancelled {
		status = model.PaymentStatusCancelled
	}
	//購入者が再試行できるよう支払いIDは外す
	if err := r.Orders().UpdatePayment(ctx, o.ID, status, nil); err != nil {
		return res, fmt.Errorf("update payment of order %d: %w", o.ID, err)
	}
	res.Outcome = OutcomeRejected
	return res, nil
}

// 返金・チャージバックはステータスだけ写す（台帳の取り消しは返金フローで行う）
func (s *SettlementService) applyReversed(ctx context.Context, r repo.TxRepos, o model.Order, p model.GatewayPayment) (SettlementResult, error) {
	res := SettlementResult{OrderID: o.ID, Outcome: OutcomeIgnored}
	if o.PaymentID == nil || *o.PaymentID != p.ID || o.PaymentStatus == model.PaymentStatusRefunded {
		return res, nil
	}
	if p.Status == model.GatewayStatusChargedBack {
		s.logger.WarnContext(ctx, "payment charged back; ledger needs manual review",
			slog.Int64("order_id", o.ID),
			slog.String("payment_id", p.ID),
		)
	}
	if err := r.Orders().UpdatePayment(ctx, o.ID, model.PaymentStatusRefunded, o.PaymentID); err != nil {
		return res, fmt.Errorf("update payment of order %d: %w", o.ID, err)
	}
	res.Outcome = OutcomeMirrored
	return res, nil
}

func (s *SettlementService) applyInFlight(ctx context.Context, r repo.TxRepos, o model.Order, p model.GatewayPayment) (SettlementResult, error) {
	res := SettlementResult{OrderID: o.ID, Outcome: OutcomePending}
	if o.Status != model.OrderStatusPending || o.PaymentID != nil {
		return res, nil
	}
	if err := r.Orders().UpdatePayment(ctx, o.ID, model.PaymentStatusPending, &p.ID); err != nil {
		return res, fmt.Errorf("attach payment to order %d: %w", o.ID, err)
	}
	return res, nil
}

// 明細の手数料を固定し、販売者ごとにまとめて1件ずつSALEを書く。
// skipExistingなら既にSALEがある販売者には、今回初めて固定した明細の分だけ追加で入金する
// （手数料の固定が明細ごとの入金済みの印）
func (s *SettlementService) creditSellers(ctx context.Context, r repo.TxRepos, o model.Order, source string, skipExisting bool) ([]SellerCredit, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list items of order %d: %w", o.ID, err)
	}
	if len(items) == 0 {
		s.logger.WarnContext(ctx, "order has no items", slog.Int64("order_id", o.ID))
		return nil, nil
	}

	var sellers []int64
	totals := map[int64]decimal.Decimal{}
	fresh := map[int64]decimal.Decimal{}
	for _, it := range items {
		if it.RefundedAt != nil {
			continue
		}
		if it.SellerID == nil {
			s.logger.WarnContext(ctx, "order item has no seller",
				slog.Int64("order_id", o.ID),
				slog.Int64("item_id", it.ID),
			)
			continue
		}

		wasFrozen := it.CommissionFrozen()
		revenue, err := s.freezeCommission(ctx, r, it)
		if err != nil {
			return nil, err
		}
		sellerID := *it.SellerID
		if _, ok := totals[sellerID]; !ok {
			sellers = append(sellers, sellerID)
		}
		totals[sellerID] = totals[sellerID].Add(revenue)
		if !wasFrozen {
			fresh[sellerID] = fresh[sellerID].Add(revenue)
		}
	}

	credits := []SellerCredit{}
	for _, sellerID := range sellers {
		amount := totals[sellerID]
		if !amount.IsPositive() {
			continue
		}

		acct, err := s.ensureAccount(ctx, r, sellerID)
		if err != nil {
			return nil, err
		}
		desc := fmt.Sprintf("sale order #%d", o.ID)
		if skipExisting {
			exists, err := r.Transactions().ExistsForOrder(ctx, acct.ID, o.ID, model.TransactionTypeSale)
			if err != nil {
				return nil, err
			}
			if exists {
				//後から販売者が付いた明細の分だけ
				amount = fresh[sellerID]
				if !amount.IsPositive() {
					continue
				}
				desc = fmt.Sprintf("sale order #%d (late items)", o.ID)
			}
		}

		orderID := o.ID
		t, err := s.ledger.ApplyInTx(ctx, r, LedgerEntryInput{
			AccountID:   acct.ID,
			Amount:      amount,
			Type:        model.TransactionTypeSale,
			Description: desc,
			OrderID:     &orderID,
			Component:   source,
		})
		if err != nil {
			return nil, fmt.Errorf("credit seller %d for order %d: %w", sellerID, o.ID, err)
		}
		credits = append(credits, SellerCredit{
			SellerID:      sellerID,
			AccountID:     acct.ID,
			Amount:        t.Amount,
			TransactionID: t.ID,
		})
	}
	return credits, nil
}

// 固定済みならその値、未固定なら計算して固定する
func (s *SettlementService) freezeCommission(ctx context.Context, r repo.TxRepos, it model.OrderItem) (decimal.Decimal, error) {
	if it.CommissionFrozen() {
		return it.SellerRevenue.Decimal, nil
	}
	product, err := r.Products().FindByID(ctx, it.ProductID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load product %d: %w", it.ProductID, err)
	}
	b, err := s.commission.Calculate(it, product)
	if err != nil {
		return decimal.Zero, err
	}
	ok, err := r.OrderItems().FreezeCommission(ctx, it.ID, b)
	if err != nil {
		return decimal.Zero, fmt.Errorf("freeze commission of item %d: %w", it.ID, err)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("commission of item %d was frozen concurrently", it.ID)
	}
	return b.SellerRevenue, nil
}

// 初回入金時に口座を作る
func (s *SettlementService) ensureAccount(ctx context.Context, r repo.TxRepos, sellerID int64) (model.SellerAccount, error) {
	acct, err := r.Accounts().FindByOwner(ctx, model.AccountOwnerSeller, sellerID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.SellerAccount{}, err
	}

	acct, err = r.Accounts().CreateIfAbsent(ctx, model.SellerAccount{
		OwnerID:        sellerID,
		OwnerType:      model.AccountOwnerSeller,
		AccountNumber:  newAccountNumber(),
		Balance:        decimal.Zero,
		BlockedBalance: decimal.Zero,
		TotalReceived:  decimal.Zero,
		Status:         model.AccountStatusPending,
		KYCStatus:      model.KYCStatusNotStarted,
	})
	if err != nil {
		return model.SellerAccount{}, fmt.Errorf("create account for seller %d: %w", sellerID, err)
	}
	s.logger.InfoContext(ctx, "seller account created",
		slog.Int64("seller_id", sellerID),
		slog.Int64("account_id", acct.ID),
	)
	return acct, nil
}

func newAccountNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "AC" + strings.ToUpper(raw[:18])
}

func awaitingApproval(s model.PaymentStatus) bool {
	return s == model.PaymentStatusPending || s == model.PaymentStatusRejected || s == model.PaymentStatusCancelled || s == ""
}

func settled(s model.OrderStatus) bool {
	return s == model.OrderStatusProcessing || s == model.OrderStatusShipped || s == model.OrderStatusDelivered
}

func samePaymentID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
