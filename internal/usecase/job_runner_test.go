package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"payrecon/internal/domain/model"
	"payrecon/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type jobKit struct {
	pollerKit
	locker *LockerMock
	flags  *FlagStoreMock
	audits *memAuditRepo
	runner *usecase.JobRunner
}

func newJobKit() jobKit {
	k := newPollerKit()
	locker := new(LockerMock)
	flags := new(FlagStoreMock)
	audits := &memAuditRepo{}
	auditor := usecase.NewConsistencyAuditUsecase(k.store, k.settlement, new(RefundRetrierMock), usecase.AuditOptions{
		Lookback:     24 * time.Hour,
		AbandonAfter: 48 * time.Hour,
		ScanLimit:    100,
	}, k.clock, discardLogger())
	runner := usecase.NewJobRunner(k.poller, auditor, locker, flags, audits, 10*time.Minute, k.clock, discardLogger())
	return jobKit{pollerKit: k, locker: locker, flags: flags, audits: audits, runner: runner}
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok, "expected HTTPError, got %v", err)
	assert.Equal(t, status, he.Status)
}

func TestJobRunner_Reconcile_RunsUnderLock(t *testing.T) {
	k := newJobKit()
	o, _ := k.seedOrder(42)
	released := false

	k.flags.On("IsSet", mock.Anything, usecase.MaintenanceFlag).Return(false, nil).Once()
	k.locker.On("TryLock", mock.Anything, usecase.JobReconcilePayments, 10*time.Minute).
		Return(func() { released = true }, true, nil).Once()
	k.gw.On("SearchPayments", mock.Anything, searchFor(o.ID)).
		Return([]model.GatewayPayment{approvedPayment("pay-1", o.ID)}, nil).Once()

	sum, err := k.runner.RunReconciliation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Approved)
	assert.True(t, released)
	k.locker.AssertExpectations(t)
}

func TestJobRunner_MaintenanceMode_Refuses(t *testing.T) {
	k := newJobKit()
	k.flags.On("IsSet", mock.Anything, usecase.MaintenanceFlag).Return(true, nil)

	_, err := k.runner.RunReconciliation(context.Background())
	assertStatus(t, err, http.StatusServiceUnavailable)
	_, err = k.runner.RunAudit(context.Background())
	assertStatus(t, err, http.StatusServiceUnavailable)
	k.locker.AssertNotCalled(t, "TryLock", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobRunner_FlagStoreDown_Refuses(t *testing.T) {
	k := newJobKit()
	k.flags.On("IsSet", mock.Anything, usecase.MaintenanceFlag).Return(false, errors.New("redis down")).Once()

	_, err := k.runner.RunAudit(context.Background())
	assertStatus(t, err, http.StatusServiceUnavailable)
}

func TestJobRunner_AlreadyRunning_Conflict(t *testing.T) {
	k := newJobKit()
	k.flags.On("IsSet", mock.Anything, usecase.MaintenanceFlag).Return(false, nil).Once()
	k.locker.On("TryLock", mock.Anything, usecase.JobAuditConsistency, 10*time.Minute).Return(nil, false, nil).Once()

	_, err := k.runner.RunAudit(context.Background())
	assertStatus(t, err, http.StatusConflict)
}

func TestJobRunner_Audit_ReturnsReport(t *testing.T) {
	k := newJobKit()
	k.store.addAccount(model.SellerAccount{OwnerID: 5, Balance: dec("1.00")})
	k.flags.On("IsSet", mock.Anything, usecase.MaintenanceFlag).Return(false, nil).Once()
	k.locker.On("TryLock", mock.Anything, usecase.JobAuditConsistency, 10*time.Minute).Return(func() {}, true, nil).Once()

	rep, err := k.runner.RunAudit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.IssuesFound)
	assert.Equal(t, usecase.IssueBalanceDrift, rep.Issues[0].Issue)
}

// =====================
// メンテナンス
// =====================

func TestJobRunner_SetMaintenance(t *testing.T) {
	tests := []struct {
		name    string
		in      usecase.MaintenanceInput
		wantTTL time.Duration
		after   string
	}{
		{name: "enable with ttl", in: usecase.MaintenanceInput{Enabled: true, TTL: time.Hour}, wantTTL: time.Hour, after: `{"maintenance":true,"ttl":"1h0m0s"}`},
		{name: "enable until disabled", in: usecase.MaintenanceInput{Enabled: true}, wantTTL: 365 * 24 * time.Hour, after: `{"maintenance":true,"ttl":"8760h0m0s"}`},
		{name: "disable", in: usecase.MaintenanceInput{Enabled: false, TTL: time.Hour}, wantTTL: 0, after: `{"maintenance":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newJobKit()
			k.flags.On("Set", mock.Anything, usecase.MaintenanceFlag, tt.wantTTL).Return(nil).Once()

			require.NoError(t, k.runner.SetMaintenance(context.Background(), adminID, tt.in))
			k.flags.AssertExpectations(t)
			require.Len(t, k.audits.logs, 1)
			assert.Equal(t, model.AuditActionSetMaintenance, k.audits.logs[0].Action)
			assert.Equal(t, model.AuditResourceSystem, k.audits.logs[0].ResourceType)
			assert.Equal(t, tt.after, k.audits.logs[0].AfterJSON)
		})
	}
}

func TestJobRunner_SetMaintenance_Invalid(t *testing.T) {
	k := newJobKit()

	assertStatus(t, k.runner.SetMaintenance(context.Background(), 0, usecase.MaintenanceInput{}), http.StatusUnauthorized)
	assertStatus(t, k.runner.SetMaintenance(context.Background(), adminID, usecase.MaintenanceInput{Enabled: true, TTL: -time.Second}), http.StatusBadRequest)
	k.flags.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, k.audits.logs)
}
