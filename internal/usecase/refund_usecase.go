package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 返金を進めるために次に満たすべき条件
const (
	PreconditionProductReceived    = "product_received"
	PreconditionRefundPendingRetry = "refund_pending_retry"
	PreconditionPaymentApproved    = "payment_approved"
	PreconditionRefundableAmount   = "refundable_amount"
	PreconditionReturnRequest      = "return_request"
	PreconditionManualReview       = "manual_review"
)

var refundKeyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("payrecon/refund"))

type ApproveReturnInput struct {
	AdminNotes      string
	ProductReceived bool
}

type IssueRefundInput struct {
	OrderID   int64
	PaymentID string
	//空なら未返金の明細すべて
	ItemIDs []int64
	Reason  string
}

type RefundOutput struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	ReturnRequestID *int64          `json:"return_request_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	ItemIDs         []int64         `json:"item_ids"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
}

type RefundActionOutput struct {
	OrderID      int64         `json:"order_id"`
	ReturnID     int64         `json:"return_id,omitempty"`
	OrderStatus  string        `json:"order_status,omitempty"`
	ReturnStatus string        `json:"return_status,omitempty"`
	Refund       *RefundOutput `json:"refund,omitempty"`
	//返金がまだ終わっていないとき、次に満たすべき条件
	PendingPrecondition string `json:"pending_precondition,omitempty"`
	Message             string `json:"message"`
}

type RefundOptions struct {
	//この割合以上返金したらrefunded
	FullRefundRatio decimal.Decimal
}

// 返品承認・注文キャンセル・手動返金。
// 返金行をPENDINGで先に保存してから決済代行を呼び、結果でAPPROVEDに進める。
// 失敗したらPENDINGのまま残し、同じ冪等キーで再送する。
type RefundUsecase struct {
	tx        repo.TransactionManager
	gateway   PaymentGateway
	ledger  *LedgerWriter
	opts    RefundOptions
	clock   Clock
	logger  *slog.Logger
}

func NewRefundUsecase(
	tx repo.TransactionManager,
	gw PaymentGateway,
	ledger *LedgerWriter,
	opts RefundOptions,
	clock Clock,
	logger *slog.Logger,
) *RefundUsecase {
	return &RefundUsecase{
		tx:      tx,
		gateway: gw,
		ledger:  ledger,
		opts:    opts,
		clock:   clock,
		logger:  logger,
	}
}

// 返品承認。商品の受領が確認できるまで返金はしない
func (u *RefundUsecase) ApproveReturn(ctx context.Context, actorAdminUserID int64, returnID int64, in ApproveReturnInput) (RefundActionOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if returnID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out RefundActionOutput
	var toSubmit *model.Refund

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rr, err := r.Returns().FindByIDForUpdate(ctx, returnID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = RefundActionOutput{OrderID: rr.OrderID, ReturnID: rr.ID}

		switch rr.Status {
		case model.ReturnStatusRejected:
			return NewHTTPError(http.StatusConflict, "return request was rejected")
		case model.ReturnStatusCompleted:
			out.ReturnStatus = string(rr.Status)
			out.Message = "return already completed"
			if rr.RefundID != nil {
				rf, err := r.Refunds().FindByID(ctx, *rr.RefundID)
				if err != nil {
					return NewHTTPError(http.StatusInternalServerError, "db error")
				}
				ro := toRefundOutput(rf)
				out.Refund = &ro
			}
			return nil
		}

		o, err := r.Orders().FindByIDForUpdate(ctx, rr.OrderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		before := returnSnapshot(rr)
		now := u.clock.Now()
		rr.Status = model.ReturnStatusApproved
		rr.ProductReceived = rr.ProductReceived || in.ProductReceived
		if notes := strings.TrimSpace(in.AdminNotes); notes != "" {
			rr.AdminNotes = notes
		}
		rr.ReviewedBy = &actorAdminUserID
		rr.ReviewedAt = &now

		if rr.ProductReceived {
			rf, err := u.refundForReturn(ctx, r, o, &rr)
			if err != nil {
				return err
			}
			toSubmit = &rf
		}

		if err := r.Returns().Update(ctx, rr); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := u.audit(ctx, r, actorAdminUserID, model.AuditActionApproveReturn, model.AuditResourceReturn, rr.ID, before, returnSnapshot(rr)); err != nil {
			return err
		}

		out.ReturnStatus = string(rr.Status)
		if !rr.ProductReceived {
			out.PendingPrecondition = PreconditionProductReceived
			out.Message = "return approved; refund waits for product receipt"
		}
		return nil
	})
	if err != nil {
		return RefundActionOutput{}, err
	}
	if toSubmit == nil {
		return out, nil
	}

	rf, err := u.submit(ctx, *toSubmit)
	if err != nil {
		return RefundActionOutput{}, err
	}
	if rf.Status == model.RefundStatusApproved {
		out.ReturnStatus = string(model.ReturnStatusCompleted)
	}
	return withRefund(out, rf), nil
}

// 返品に紐づく返金を決める。PENDINGがあればそれを再送し、無ければ新しく作る
func (u *RefundUsecase) refundForReturn(ctx context.Context, r repo.TxRepos, o model.Order, rr *model.ReturnRequest) (model.Refund, error) {
	if rr.RefundID != nil {
		rf, err := r.Refunds().FindByID(ctx, *rr.RefundID)
		if err != nil {
			return model.Refund{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if rf.Status != model.RefundStatusFailed {
			return rf, nil
		}
	}

	ids, err := model.DecodeItemIDs(rr.ItemIDs)
	if err != nil || len(ids) == 0 {
		return model.Refund{}, NewHTTPError(http.StatusBadRequest, "return request has no items")
	}
	reason := fmt.Sprintf("return #%d", rr.ID)
	if rr.Reason != "" {
		reason += ": " + rr.Reason
	}
	rf, err := u.reserve(ctx, r, o, ids, false, reason, &rr.ID)
	if err != nil {
		return model.Refund{}, err
	}
	rr.RefundID = &rf.ID
	return rf, nil
}

func (u *RefundUsecase) RejectReturn(ctx context.Context, actorAdminUserID int64, returnID int64, notes string) (RefundActionOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if returnID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out RefundActionOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rr, err := r.Returns().FindByIDForUpdate(ctx, returnID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = RefundActionOutput{OrderID: rr.OrderID, ReturnID: rr.ID, ReturnStatus: string(rr.Status)}

		if rr.Status == model.ReturnStatusRejected {
			out.Message = "return already rejected"
			return nil
		}
		if rr.Status == model.ReturnStatusCompleted {
			return NewHTTPError(http.StatusConflict, "return already refunded")
		}
		if rr.RefundID != nil {
			rf, err := r.Refunds().FindByID(ctx, *rr.RefundID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if rf.Status != model.RefundStatusFailed {
				return NewHTTPError(http.StatusConflict, "refund already issued for this return")
			}
		}

		before := returnSnapshot(rr)
		now := u.clock.Now()
		rr.Status = model.ReturnStatusRejected
		if n := strings.TrimSpace(notes); n != "" {
			rr.AdminNotes = n
		}
		rr.ReviewedBy = &actorAdminUserID
		rr.ReviewedAt = &now
		if err := r.Returns().Update(ctx, rr); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if err := u.audit(ctx, r, actorAdminUserID, model.AuditActionRejectReturn, model.AuditResourceReturn, rr.ID, before, returnSnapshot(rr)); err != nil {
			return err
		}
		out.ReturnStatus = string(rr.Status)
		out.Message = "return rejected"
		return nil
	})
	if err != nil {
		return RefundActionOutput{}, err
	}
	return out, nil
}

// 発送前の注文キャンセル。支払い済みなら残額を返金する
func (u *RefundUsecase) CancelOrder(ctx context.Context, actorAdminUserID int64, orderID int64, reason string) (RefundActionOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out RefundActionOutput
	var toSubmit *model.Refund

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = RefundActionOutput{OrderID: o.ID, OrderStatus: string(o.Status)}

		switch o.Status {
		case model.OrderStatusCancelled:
			out.Message = "order already cancelled"
			return nil
		case model.OrderStatusShipped, model.OrderStatusDelivered:
			return NewPreconditionError(http.StatusConflict, "shipped orders are refunded through a return request", PreconditionReturnRequest)
		}

		won, err := r.Orders().AdvanceStatus(ctx, o.ID,
			[]model.OrderStatus{model.OrderStatusPending, model.OrderStatusProcessing},
			model.OrderStatusCancelled, u.clock.Now())
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !won {
			return NewHTTPError(http.StatusConflict, "order status changed concurrently")
		}

		if err := restockItems(ctx, r, o.ID, nil); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		switch o.PaymentStatus {
		case model.PaymentStatusApproved, model.PaymentStatusPartialRefunded:
			if reason = strings.TrimSpace(reason); reason == "" {
				reason = "order cancelled"
			}
			rf, err := u.reserve(ctx, r, o, nil, true, fmt.Sprintf("cancel order #%d: %s", o.ID, reason), nil)
			var he *HTTPError
			if errors.As(err, &he) && he.Precondition == PreconditionRefundableAmount {
				//返金済み
				break
			}
			if err != nil {
				return err
			}
			toSubmit = &rf
		case model.PaymentStatusPending:
			if err := r.Orders().UpdatePayment(ctx, o.ID, model.PaymentStatusCancelled, o.PaymentID); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		before := map[string]string{"status": string(o.Status), "payment_status": string(o.PaymentStatus)}
		after := map[string]string{"status": string(model.OrderStatusCancelled), "reason": reason}
		if err := u.audit(ctx, r, actorAdminUserID, model.AuditActionCancelOrder, model.AuditResourceOrder, o.ID, before, after); err != nil {
			return err
		}
		out.OrderStatus = string(model.OrderStatusCancelled)
		out.Message = "order cancelled"
		return nil
	})
	if err != nil {
		return RefundActionOutput{}, err
	}
	if toSubmit == nil {
		return out, nil
	}

	rf, err := u.submit(ctx, *toSubmit)
	if err != nil {
		return RefundActionOutput{}, err
	}
	return withRefund(out, rf), nil
}

// 管理者による手動返金
func (u *RefundUsecase) IssueRefund(ctx context.Context, actorAdminUserID int64, in IssueRefundInput) (RefundActionOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.OrderID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order_id")
	}
	paymentID := strings.TrimSpace(in.PaymentID)
	if paymentID == "" {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "payment_id is required")
	}

	var out RefundActionOutput
	var reserved model.Refund

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.PaymentID == nil || *o.PaymentID != paymentID {
			return NewHTTPError(http.StatusConflict, "payment does not belong to order")
		}

		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			reason = "manual refund"
		}
		var itemIDs []int64
		if len(in.ItemIDs) > 0 {
			itemIDs = in.ItemIDs
		}
		rf, err := u.reserve(ctx, r, o, itemIDs, false, reason, nil)
		if err != nil {
			return err
		}
		reserved = rf

		after := map[string]any{"refund_id": rf.ID, "amount": rf.Amount.StringFixed(model.MoneyScale), "reason": reason}
		if err := u.audit(ctx, r, actorAdminUserID, model.AuditActionIssueRefund, model.AuditResourceOrder, o.ID, nil, after); err != nil {
			return err
		}
		out = RefundActionOutput{OrderID: o.ID, OrderStatus: string(o.Status)}
		return nil
	})
	if err != nil {
		return RefundActionOutput{}, err
	}

	rf, err := u.submit(ctx, reserved)
	if err != nil {
		return RefundActionOutput{}, err
	}
	return withRefund(out, rf), nil
}

// PENDINGの返金を同じ冪等キーで再送する（監査ジョブから）
func (u *RefundUsecase) RetryPendingRefund(ctx context.Context, refundID int64) (model.Refund, error) {
	var rf model.Refund
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		rf, err = r.Refunds().FindByID(ctx, refundID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Refund{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Refund{}, err
	}
	if rf.Status != model.RefundStatusPending {
		return rf, nil
	}
	return u.submit(ctx, rf)
}

// 管理者による再送
func (u *RefundUsecase) RetryRefund(ctx context.Context, actorAdminUserID int64, refundID int64) (RefundActionOutput, error) {
	if actorAdminUserID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if refundID <= 0 {
		return RefundActionOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rf, err := u.RetryPendingRefund(ctx, refundID)
	if err != nil {
		return RefundActionOutput{}, err
	}
	after := map[string]any{"refund_id": rf.ID, "status": rf.Status, "retry": true}
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return u.audit(ctx, r, actorAdminUserID, model.AuditActionIssueRefund, model.AuditResourceOrder, rf.OrderID, nil, after)
	})
	if err != nil {
		return RefundActionOutput{}, err
	}
	out := RefundActionOutput{OrderID: rf.OrderID}
	if rf.ReturnRequestID != nil {
		out.ReturnID = *rf.ReturnRequestID
	}
	return withRefund(out, rf), nil
}

// 注文ロック中に呼ぶ。返金額を決めてPENDINGで保存する。
// itemIDsがnilなら未返金の明細すべて、wholeRemainderなら送料も含めた残額
func (u *RefundUsecase) reserve(ctx context.Context, r repo.TxRepos, o model.Order, itemIDs []int64, wholeRemainder bool, reason string, returnID *int64) (model.Refund, error) {
	if o.PaymentID == nil || (o.PaymentStatus != model.PaymentStatusApproved && o.PaymentStatus != model.PaymentStatusPartialRefunded) {
		return model.Refund{}, NewPreconditionError(http.StatusConflict, "payment is not refundable", PreconditionPaymentApproved)
	}

	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return model.Refund{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	refunds, err := r.Refunds().ListByOrder(ctx, o.ID)
	if err != nil {
		return model.Refund{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//PENDING/APPROVEDの返金に含まれる明細と金額
	claimed := map[int64]bool{}
	committed := decimal.Zero
	for _, rf := range refunds {
		if rf.Status == model.RefundStatusFailed {
			continue
		}
		committed = committed.Add(rf.Amount)
		ids, err := model.DecodeItemIDs(rf.ItemIDs)
		if err != nil {
			return model.Refund{}, NewHTTPError(http.StatusInternalServerError, "db error")
		}
		for _, id := range ids {
			claimed[id] = true
		}
	}

	byID := map[int64]model.OrderItem{}
	for _, it := range items {
		byID[it.ID] = it
	}
	requested := itemIDs
	if requested == nil {
		for _, it := range items {
			requested = append(requested, it.ID)
		}
	}

	selected := []int64{}
	amount := decimal.Zero
	for _, id := range requested {
		it, ok := byID[id]
		if !ok {
			return model.Refund{}, NewHTTPError(http.StatusBadRequest, fmt.Sprintf("item %d does not belong to order", id))
		}
		if it.RefundedAt != nil || claimed[id] {
			continue
		}
		claimed[id] = true
		selected = append(selected, id)
		amount = amount.Add(it.Total())
	}

	remaining := o.Total.Sub(committed)
	if wholeRemainder {
		amount = remaining
	}
	amount = model.RoundMoney(amount)
	if !amount.IsPositive() {
		return model.Refund{}, NewPreconditionError(http.StatusConflict, "nothing left to refund", PreconditionRefundableAmount)
	}
	if amount.GreaterThan(remaining) {
		return model.Refund{}, NewPreconditionError(http.StatusConflict, "refund exceeds remaining refundable amount", PreconditionRefundableAmount)
	}

	now := u.clock.Now()
	key := uuid.NewSHA1(refundKeyNamespace, []byte(fmt.Sprintf("%d:%d:%d", o.ID, len(refunds), now.UnixNano()))).String()
	rf, err := r.Refunds().Create(ctx, model.Refund{
		OrderID:         o.ID,
		ReturnRequestID: returnID,
		PaymentID:       *o.PaymentID,
		Amount:          amount,
		Reason:          reason,
		ItemIDs:         model.EncodeItemIDs(selected),
		IdempotencyKey:  key,
		Status:          model.RefundStatusPending,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return model.Refund{}, NewHTTPError(http.StatusConflict, "refund already requested")
	}
	if err != nil {
		return model.Refund{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return rf, nil
}

// 決済代行を呼んで結果を反映する。通信エラーはPENDINGのまま残す
func (u *RefundUsecase) submit(ctx context.Context, rf model.Refund) (model.Refund, error) {
	gw, gwErr := u.gateway.CreateRefund(ctx, rf.PaymentID, rf.Amount, rf.IdempotencyKey)
	if gwErr != nil {
		u.logger.WarnContext(ctx, "refund request failed; kept pending",
			slog.Int64("refund_id", rf.ID),
			slog.Int64("order_id", rf.OrderID),
			slog.String("error", gwErr.Error()),
		)
	}
	return u.finalize(ctx, rf.ID, gw, gwErr)
}

func (u *RefundUsecase) finalize(ctx context.Context, refundID int64, gw model.GatewayRefund, gwErr error) (model.Refund, error) {
	var out model.Refund
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rf, err := r.Refunds().FindByID(ctx, refundID)
		if err != nil {
			return err
		}
		//ロック順は 返品 → 注文
		var rr *model.ReturnRequest
		if rf.ReturnRequestID != nil {
			got, err := r.Returns().FindByIDForUpdate(ctx, *rf.ReturnRequestID)
			if err != nil {
				return err
			}
			rr = &got
		}
		o, err := r.Orders().FindByIDForUpdate(ctx, rf.OrderID)
		if err != nil {
			return err
		}
		if rf, err = r.Refunds().FindByID(ctx, refundID); err != nil {
			return err
		}
		if rf.Status != model.RefundStatusPending {
			out = rf
			return nil
		}

		if gwErr != nil {
			rf.LastError = gwErr.Error()
			out = rf
			return r.Refunds().Update(ctx, rf)
		}
		if gw.ID != "" {
			id := gw.ID
			rf.GatewayRefundID = &id
		}

		switch gw.Status {
		case model.GatewayStatusApproved, model.GatewayStatusRefunded:
			if err := u.complete(ctx, r, o, &rf, rr); err != nil {
				return err
			}
		case model.GatewayStatusRejected, model.GatewayStatusCancelled:
			rf.Status = model.RefundStatusFailed
			rf.LastError = fmt.Sprintf("refund %s by payment gateway", gw.Status)
			if err := r.Refunds().Update(ctx, rf); err != nil {
				return err
			}
		default:
			rf.LastError = ""
			if err := r.Refunds().Update(ctx, rf); err != nil {
				return err
			}
		}
		out = rf
		return nil
	})
	if err != nil {
		return model.Refund{}, err
	}

	u.logger.InfoContext(ctx, "refund finalized",
		slog.Int64("refund_id", out.ID),
		slog.Int64("order_id", out.OrderID),
		slog.String("status", string(out.Status)),
		slog.String("amount", out.Amount.StringFixed(model.MoneyScale)),
	)
	return out, nil
}

// APPROVEDにして、明細・台帳・支払いステータス・在庫・返品を反映する
func (u *RefundUsecase) complete(ctx context.Context, r repo.TxRepos, o model.Order, rf *model.Refund, rr *model.ReturnRequest) error {
	now := u.clock.Now()
	rf.Status = model.RefundStatusApproved
	rf.ApprovedAt = &now
	rf.LastError = ""
	if err := r.Refunds().Update(ctx, *rf); err != nil {
		return err
	}

	ids, err := model.DecodeItemIDs(rf.ItemIDs)
	if err != nil {
		return err
	}
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return err
	}
	var refunded []model.OrderItem
	for _, it := range items {
		if want[it.ID] && it.RefundedAt == nil {
			refunded = append(refunded, it)
		}
	}

	if err := u.reverseSellerRevenue(ctx, r, o, rf, refunded); err != nil {
		return err
	}
	if len(refunded) > 0 {
		refundedIDs := make([]int64, 0, len(refunded))
		for _, it := range refunded {
			refundedIDs = append(refundedIDs, it.ID)
		}
		if err := r.OrderItems().MarkRefunded(ctx, refundedIDs, now); err != nil {
			return err
		}
	}

	approvedSum, err := r.Refunds().SumByOrder(ctx, o.ID, []model.RefundStatus{model.RefundStatusApproved})
	if err != nil {
		return err
	}
	status := model.PaymentStatusPartialRefunded
	if approvedSum.GreaterThanOrEqual(o.Total.Mul(u.opts.FullRefundRatio)) {
		status = model.PaymentStatusRefunded
	}
	if err := r.Orders().UpdatePayment(ctx, o.ID, status, o.PaymentID); err != nil {
		return err
	}

	if rr != nil {
		//返品で戻ってきた在庫
		if err := restockItems(ctx, r, o.ID, want); err != nil {
			return err
		}
		rr.Status = model.ReturnStatusCompleted
		rr.RefundID = &rf.ID
		if err := r.Returns().Update(ctx, *rr); err != nil {
			return err
		}
	}
	return nil
}

// 入金済み（SALEあり）の販売者から、返金明細の取り分を差し引く
func (u *RefundUsecase) reverseSellerRevenue(ctx context.Context, r repo.TxRepos, o model.Order, rf *model.Refund, items []model.OrderItem) error {
	var sellers []int64
	totals := map[int64]decimal.Decimal{}
	for _, it := range items {
		if it.SellerID == nil || !it.SellerRevenue.Valid {
			continue
		}
		if _, ok := totals[*it.SellerID]; !ok {
			sellers = append(sellers, *it.SellerID)
		}
		totals[*it.SellerID] = totals[*it.SellerID].Add(it.SellerRevenue.Decimal)
	}

	for _, sellerID := range sellers {
		amount := totals[sellerID]
		if !amount.IsPositive() {
			continue
		}
		acct, err := r.Accounts().FindByOwner(ctx, model.AccountOwnerSeller, sellerID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		credited, err := r.Transactions().ExistsForOrder(ctx, acct.ID, o.ID, model.TransactionTypeSale)
		if err != nil {
			return err
		}
		if !credited {
			continue
		}

		orderID, refundID := o.ID, rf.ID
		if _, err := u.ledger.ApplyInTx(ctx, r, LedgerEntryInput{
			AccountID:   acct.ID,
			Amount:      amount.Neg(),
			Type:        model.TransactionTypeAdjustment,
			Description: fmt.Sprintf("refund #%d order #%d", rf.ID, o.ID),
			OrderID:     &orderID,
			RefundID:    &refundID,
			Component:   SourceRefund,
		}); err != nil {
			return fmt.Errorf("reverse seller %d: %w", sellerID, err)
		}
	}
	return nil
}

// 監査ログは同じTxで書く（巻き戻れば消える）
func (u *RefundUsecase) audit(ctx context.Context, r repo.TxRepos, actor int64, action model.AuditAction, resType model.AuditResourceType, resID int64, before, after any) error {
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actor,
		Action:       action,
		ResourceType: resType,
		ResourceID:   resID,
		BeforeJSON:   toJSON(before),
		AfterJSON:    toJSON(after),
		CreatedAt:    u.clock.Now(),
	}); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

// 在庫品の在庫を戻す。onlyがnilなら未返金の明細すべて
func restockItems(ctx context.Context, r repo.TxRepos, orderID int64, only map[int64]bool) error {
	items, err := r.OrderItems().ListByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ItemType == model.ItemTypeDropshipping {
			continue
		}
		if only != nil && !only[it.ID] {
			continue
		}
		if only == nil && it.RefundedAt != nil {
			continue
		}
		if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func toRefundOutput(rf model.Refund) RefundOutput {
	ids, _ := model.DecodeItemIDs(rf.ItemIDs)
	return RefundOutput{
		ID:              rf.ID,
		OrderID:         rf.OrderID,
		ReturnRequestID: rf.ReturnRequestID,
		Amount:          rf.Amount,
		Status:          string(rf.Status),
		ItemIDs:         ids,
		GatewayRefundID: rf.GatewayRefundID,
		ApprovedAt:      rf.ApprovedAt,
	}
}

func withRefund(out RefundActionOutput, rf model.Refund) RefundActionOutput {
	ro := toRefundOutput(rf)
	out.Refund = &ro
	switch rf.Status {
	case model.RefundStatusApproved:
		out.PendingPrecondition = ""
		out.Message = "refund approved"
	case model.RefundStatusPending:
		out.PendingPrecondition = PreconditionRefundPendingRetry
		out.Message = "refund saved as pending; it will be retried"
	default:
		out.PendingPrecondition = PreconditionManualReview
		out.Message = "refund was rejected by the payment gateway"
	}
	return out
}

func returnSnapshot(rr model.ReturnRequest) map[string]any {
	return map[string]any{
		"status":           rr.Status,
		"product_received": rr.ProductReceived,
		"refund_id":        rr.RefundID,
	}
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
