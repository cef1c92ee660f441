package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"payrecon/internal/domain/model"
	"payrecon/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type RefundRetrierMock struct{ mock.Mock }

func (m *RefundRetrierMock) RetryPendingRefund(ctx context.Context, refundID int64) (model.Refund, error) {
	args := m.Called(ctx, refundID)
	rf, _ := args.Get(0).(model.Refund)
	return rf, args.Error(1)
}

type auditKit struct {
	settlementKit
	retrier *RefundRetrierMock
	audit   *usecase.ConsistencyAuditUsecase
}

func newAuditKit() auditKit { return newAuditKitWithLimit(100) }

// scanLimitは1ページの件数
func newAuditKitWithLimit(scanLimit int) auditKit {
	k := newSettlementKit()
	retrier := new(RefundRetrierMock)
	audit := usecase.NewConsistencyAuditUsecase(k.store, k.settlement, retrier, usecase.AuditOptions{
		Lookback:       30 * 24 * time.Hour,
		AbandonAfter:   48 * time.Hour,
		FraudThreshold: decimal.NewFromInt(70),
		ScanLimit:      scanLimit,
	}, k.clock, discardLogger())
	k.store.addUser(model.User{ID: 1, Email: "buyer@example.com", Role: model.RoleUser})
	return auditKit{settlementKit: k, retrier: retrier, audit: audit}
}

// 構造上の問題が無い注文（送料確定済み）
func (k auditKit) cleanOrder(sellerID int64, mutate func(*model.Order)) (model.Order, model.OrderItem) {
	o, it := k.seedOrder(sellerID)
	o.ShippingCost = model.NullMoney(decimal.Zero)
	if mutate != nil {
		mutate(&o)
	}
	k.store.st.orders[o.ID] = o
	return o, it
}

func issuesOf(r usecase.AuditReport, kind string) []usecase.AuditIssue {
	var out []usecase.AuditIssue
	for _, is := range r.Issues {
		if is.Issue == kind {
			out = append(out, is)
		}
	}
	return out
}

func TestAudit_CleanData_NoIssues(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, nil)
	_, err := k.settlement.Apply(context.Background(), o.ID, approvedPayment("pay-1", o.ID), usecase.SourceWebhook)
	require.NoError(t, err)

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.IssuesFound)
	assert.Empty(t, rep.Issues)
	//注文1件 + 口座1件
	assert.Equal(t, 2, rep.TotalChecked)
}

func TestAudit_StuckApproved_AdvancedAndCredited(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, func(o *model.Order) {
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-1")
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	stuck := issuesOf(rep, usecase.IssueStuckApproved)
	require.Len(t, stuck, 1)
	assert.True(t, stuck[0].Fixed)
	assert.Equal(t, o.ID, stuck[0].OrderID)
	assert.Empty(t, issuesOf(rep, usecase.IssueMissingSaleCredit))

	assert.Equal(t, model.OrderStatusProcessing, k.store.order(o.ID).Status)
	acct, _ := k.store.accountOf(42)
	require.Len(t, k.store.txsOf(acct.ID, model.TransactionTypeSale), 1)
	assert.Equal(t, usecase.SourceAuditor, k.store.txsOf(acct.ID, model.TransactionTypeSale)[0].Component)
}

func TestAudit_HighFraudScoreWithoutReview_HeldNotAdvanced(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, func(o *model.Order) {
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-1")
		o.FraudScore = decimal.NewNullDecimal(dec("90"))
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issuesOf(rep, usecase.IssueStuckApproved))
	fr := issuesOf(rep, usecase.IssueFraudReviewMissing)
	require.Len(t, fr, 1)
	assert.True(t, fr[0].Fixed)

	got := k.store.order(o.ID)
	assert.Equal(t, model.OrderStatusPending, got.Status)
	assert.Equal(t, model.FraudStatusPendingReview, *got.FraudStatus)
	assert.Empty(t, k.store.st.txs)
}

func TestAudit_MissingSaleCredit_Credited(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, func(o *model.Order) {
		o.Status = model.OrderStatusShipped
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-1")
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	missing := issuesOf(rep, usecase.IssueMissingSaleCredit)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Fixed)

	acct, ok := k.store.accountOf(42)
	require.True(t, ok)
	sales := k.store.txsOf(acct.ID, model.TransactionTypeSale)
	require.Len(t, sales, 1)
	assert.Equal(t, o.ID, *sales[0].OrderID)
	assert.Equal(t, "170.00", sales[0].Amount.StringFixed(2))
}

func TestAudit_AbandonedOrder_CancelledAndRestocked(t *testing.T) {
	k := newAuditKit()
	o, it := k.cleanOrder(42, func(o *model.Order) {
		o.CreatedAt = testNow.Add(-72 * time.Hour)
		o.PaymentID = ptr("pay-1")
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	ab := issuesOf(rep, usecase.IssueAbandoned)
	require.Len(t, ab, 1)
	assert.True(t, ab[0].Fixed)

	got := k.store.order(o.ID)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, model.PaymentStatusCancelled, got.PaymentStatus)
	assert.Equal(t, int64(12), k.store.st.stock[it.ProductID])
}

func TestAudit_DropshipItemWithoutSeller_Assigned(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, nil)
	supplier := k.store.addProduct(model.Product{SellerID: 77, Name: "lamp"})
	it := k.store.addItem(model.OrderItem{
		OrderID:           o.ID,
		ProductID:         supplier.ID,
		ItemType:          model.ItemTypeDropshipping,
		UnitPriceSnapshot: dec("0.00"),
		Quantity:          1,
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	ds := issuesOf(rep, usecase.IssueDropshipMissingSeller)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Fixed)
	assert.Equal(t, it.ID, ds[0].ItemID)
	require.NotNil(t, k.store.item(it.ID).SellerID)
	assert.Equal(t, int64(77), *k.store.item(it.ID).SellerID)
}

func TestAudit_MissingShipping_DerivedFromTotal(t *testing.T) {
	k := newAuditKit()
	o, _ := k.seedOrder(42)
	o.Total = dec("215.50")
	k.store.st.orders[o.ID] = o

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	sh := issuesOf(rep, usecase.IssueMissingShipping)
	require.Len(t, sh, 1)
	assert.True(t, sh[0].Fixed)
	got := k.store.order(o.ID)
	require.True(t, got.ShippingCost.Valid)
	assert.Equal(t, "15.50", got.ShippingCost.Decimal.StringFixed(2))
}

func TestAudit_MissingItemsAndBuyer_ReportedOnly(t *testing.T) {
	k := newAuditKit()
	o := k.store.addOrder(model.Order{
		UserID:       999,
		Total:        dec("10.00"),
		ShippingCost: model.NullMoney(decimal.Zero),
		CreatedAt:    testNow.Add(-time.Hour),
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	items := issuesOf(rep, usecase.IssueMissingItems)
	buyer := issuesOf(rep, usecase.IssueMissingBuyer)
	require.Len(t, items, 1)
	require.Len(t, buyer, 1)
	assert.False(t, items[0].Fixed)
	assert.False(t, buyer[0].Fixed)
	assert.Equal(t, o.ID, items[0].OrderID)
	assert.Equal(t, 0, rep.IssuesFixed)
}

func TestAudit_PendingRefund_Retried(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, nil)
	k.store.st.refunds[501] = model.Refund{ID: 501, OrderID: o.ID, PaymentID: "pay-1", Amount: dec("50.00"), Status: model.RefundStatusPending, IdempotencyKey: "k-501"}
	k.store.st.refunds[502] = model.Refund{ID: 502, OrderID: o.ID, PaymentID: "pay-1", Amount: dec("20.00"), Status: model.RefundStatusPending, IdempotencyKey: "k-502"}

	k.retrier.On("RetryPendingRefund", mock.Anything, int64(501)).Return(model.Refund{ID: 501, Status: model.RefundStatusApproved}, nil).Once()
	k.retrier.On("RetryPendingRefund", mock.Anything, int64(502)).Return(model.Refund{}, errors.New("gateway down")).Once()

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	pr := issuesOf(rep, usecase.IssuePendingRefund)
	require.Len(t, pr, 2)
	assert.True(t, pr[0].Fixed)
	assert.False(t, pr[1].Fixed)
	assert.Equal(t, "gateway down", pr[1].Error)
	assert.Empty(t, pr[1].Detail)
	assert.Empty(t, pr[0].Error)
	k.retrier.AssertExpectations(t)
}

// 残高のずれは検出だけで書き換えない
func TestAudit_BalanceDrift_DetectedNotFixed(t *testing.T) {
	k := newAuditKit()
	a := k.store.addAccount(model.SellerAccount{OwnerID: 42, Balance: dec("50.00"), Status: model.AccountStatusActive})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	drift := issuesOf(rep, usecase.IssueBalanceDrift)
	require.Len(t, drift, 1)
	assert.False(t, drift[0].Fixed)
	assert.Equal(t, a.ID, drift[0].AccountID)
	assert.Equal(t, "stored 50.00, derived 0.00", drift[0].Detail)
	assert.Equal(t, "50.00", k.store.st.accounts[a.ID].Balance.StringFixed(2))
}

// 2回目は直すものが無い
func TestAudit_SecondRun_FixesNothingNew(t *testing.T) {
	k := newAuditKit()
	k.cleanOrder(42, func(o *model.Order) {
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-1")
	})
	k.cleanOrder(43, func(o *model.Order) {
		o.Status = model.OrderStatusProcessing
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-2")
	})
	k.cleanOrder(44, func(o *model.Order) {
		o.CreatedAt = testNow.Add(-96 * time.Hour)
	})

	first, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.IssuesFixed)

	txCount := len(k.store.st.txs)
	second, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.IssuesFound)
	assert.Len(t, k.store.st.txs, txCount)
}

func TestAudit_CancelledContext_ReturnsPartialReport(t *testing.T) {
	k := newAuditKit()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := k.audit.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rep.TotalChecked)
}

// 1ページに収まらない件数でも最後の注文まで見る
func TestAudit_MoreOrdersThanScanLimit_AllChecked(t *testing.T) {
	ctx := context.Background()
	k := newAuditKitWithLimit(2)
	for i, seller := range []int64{42, 44} {
		o, _ := k.cleanOrder(seller, nil)
		_, err := k.settlement.Apply(ctx, o.ID, approvedPayment(fmt.Sprintf("pay-%d", i+1), o.ID), usecase.SourceWebhook)
		require.NoError(t, err)
	}
	newest, _ := k.cleanOrder(43, func(o *model.Order) {
		o.Status = model.OrderStatusProcessing
		o.PaymentStatus = model.PaymentStatusApproved
		o.PaymentID = ptr("pay-3")
	})

	rep, err := k.audit.Run(ctx)
	require.NoError(t, err)
	missing := issuesOf(rep, usecase.IssueMissingSaleCredit)
	require.Len(t, missing, 1)
	assert.Equal(t, newest.ID, missing[0].OrderID)
	assert.True(t, missing[0].Fixed)

	acct, ok := k.store.accountOf(43)
	require.True(t, ok)
	assert.Equal(t, "170.00", acct.Balance.StringFixed(2))
	//注文3件 + 口座3件
	assert.Equal(t, 6, rep.TotalChecked)
}

func TestAudit_MorePendingRefundsThanScanLimit_AllRetried(t *testing.T) {
	k := newAuditKitWithLimit(2)
	o, _ := k.cleanOrder(42, nil)
	for _, id := range []int64{601, 602, 603} {
		k.store.st.refunds[id] = model.Refund{ID: id, OrderID: o.ID, PaymentID: "pay-1", Amount: dec("10.00"), Status: model.RefundStatusPending, IdempotencyKey: fmt.Sprintf("k-%d", id)}
		k.retrier.On("RetryPendingRefund", mock.Anything, id).Return(model.Refund{ID: id, Status: model.RefundStatusApproved}, nil).Once()
	}

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	pr := issuesOf(rep, usecase.IssuePendingRefund)
	require.Len(t, pr, 3)
	assert.Equal(t, int64(603), pr[2].RefundID)
	k.retrier.AssertExpectations(t)
}

// 在庫品で入金済みの販売者に、後からドロップシッピング明細が付いた
func TestAudit_DropshipItemAssignedToCreditedSeller_CreditedOnce(t *testing.T) {
	ctx := context.Background()
	k := newAuditKit()
	o, _ := k.cleanOrder(42, func(o *model.Order) {
		o.Total = dec("280.00")
	})
	supplier := k.store.addProduct(model.Product{SellerID: 42, Name: "lamp", SupplierBaseCost: dec("50.00")})
	late := k.store.addItem(model.OrderItem{
		OrderID:           o.ID,
		ProductID:         supplier.ID,
		ItemType:          model.ItemTypeDropshipping,
		UnitPriceSnapshot: dec("80.00"),
		Quantity:          1,
	})
	p := approvedPayment("pay-1", o.ID)
	p.Amount = dec("280.00")
	_, err := k.settlement.Apply(ctx, o.ID, p, usecase.SourceWebhook)
	require.NoError(t, err)

	rep, err := k.audit.Run(ctx)
	require.NoError(t, err)
	require.Len(t, issuesOf(rep, usecase.IssueDropshipMissingSeller), 1)
	missing := issuesOf(rep, usecase.IssueMissingSaleCredit)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Fixed)
	assert.True(t, k.store.item(late.ID).CommissionFrozen())

	second, err := k.audit.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.IssuesFound)

	acct, _ := k.store.accountOf(42)
	assert.Equal(t, "205.00", acct.Balance.StringFixed(2))
}

func TestAudit_FailedRepair_ReportsError(t *testing.T) {
	k := newAuditKit()
	o, _ := k.cleanOrder(42, nil)
	//販売者のいない商品
	orphan := k.store.addProduct(model.Product{Name: "ghost"})
	k.store.addItem(model.OrderItem{
		OrderID:           o.ID,
		ProductID:         orphan.ID,
		ItemType:          model.ItemTypeDropshipping,
		UnitPriceSnapshot: dec("0.00"),
		Quantity:          1,
	})

	rep, err := k.audit.Run(context.Background())
	require.NoError(t, err)
	ds := issuesOf(rep, usecase.IssueDropshipMissingSeller)
	require.Len(t, ds, 1)
	assert.False(t, ds[0].Fixed)
	assert.Equal(t, "product has no seller", ds[0].Error)
}
