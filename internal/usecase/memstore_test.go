package usecase_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"payrecon/internal/config"
	"payrecon/internal/domain/model"
	repo "payrecon/internal/repository"
	"payrecon/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// =====================
// メモリ上のDB（WithinTxはエラーで巻き戻す）
// =====================

type memState struct {
	orders   map[int64]model.Order
	items    map[int64]model.OrderItem
	products map[int64]model.Product
	accounts map[int64]model.SellerAccount
	txs      []model.AccountTransaction
	refunds  map[int64]model.Refund
	returns  map[int64]model.ReturnRequest
	users    map[int64]model.User
	stock    map[int64]int64
	audits   []model.AuditLog
	nextID   int64
}

func (s memState) clone() memState {
	c := s
	c.orders = cloneMap(s.orders)
	c.items = cloneMap(s.items)
	c.products = cloneMap(s.products)
	c.accounts = cloneMap(s.accounts)
	c.txs = append([]model.AccountTransaction(nil), s.txs...)
	c.refunds = cloneMap(s.refunds)
	c.returns = cloneMap(s.returns)
	c.users = cloneMap(s.users)
	c.stock = cloneMap(s.stock)
	c.audits = append([]model.AuditLog(nil), s.audits...)
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memStore struct {
	st    memState
	depth int
	//WithinTxの呼び出し回数
	txCalls int
	//監査ログの書き込みを失敗させる
	auditErr error
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		orders:   map[int64]model.Order{},
		items:    map[int64]model.OrderItem{},
		products: map[int64]model.Product{},
		accounts: map[int64]model.SellerAccount{},
		refunds:  map[int64]model.Refund{},
		returns:  map[int64]model.ReturnRequest{},
		users:    map[int64]model.User{},
		stock:    map[int64]int64{},
		nextID:   1000,
	}}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.txCalls++
	if m.depth > 0 {
		return fn(m)
	}
	snapshot := m.st.clone()
	m.depth++
	err := fn(m)
	m.depth--
	if err != nil {
		m.st = snapshot
	}
	return err
}

func (m *memStore) id() int64 {
	m.st.nextID++
	return m.st.nextID
}

func (m *memStore) Orders() repo.OrderRepository                    { return memOrders{m} }
func (m *memStore) OrderItems() repo.OrderItemRepository            { return memItems{m} }
func (m *memStore) Products() repo.ProductRepository                { return memProducts{m} }
func (m *memStore) Inventory() repo.InventoryRepository             { return memInventory{m} }
func (m *memStore) Accounts() repo.SellerAccountRepository          { return memAccounts{m} }
func (m *memStore) Transactions() repo.AccountTransactionRepository { return memTxs{m} }
func (m *memStore) Refunds() repo.RefundRepository                  { return memRefunds{m} }
func (m *memStore) Returns() repo.ReturnRequestRepository           { return memReturns{m} }
func (m *memStore) Users() repo.UserRepository                      { return memUsers{m} }
func (m *memStore) AuditLogs() repo.AuditLogRepository              { return memAudits{m} }

// ---- seed helpers ----

func (m *memStore) addOrder(o model.Order) model.Order {
	if o.ID == 0 {
		o.ID = m.id()
	}
	if o.Status == "" {
		o.Status = model.OrderStatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = model.PaymentStatusPending
	}
	m.st.orders[o.ID] = o
	return o
}

func (m *memStore) addItem(it model.OrderItem) model.OrderItem {
	if it.ID == 0 {
		it.ID = m.id()
	}
	if it.ItemType == "" {
		it.ItemType = model.ItemTypeStock
	}
	m.st.items[it.ID] = it
	return it
}

func (m *memStore) addProduct(p model.Product) model.Product {
	if p.ID == 0 {
		p.ID = m.id()
	}
	m.st.products[p.ID] = p
	m.st.stock[p.ID] = p.Stock
	return p
}

func (m *memStore) addAccount(a model.SellerAccount) model.SellerAccount {
	if a.ID == 0 {
		a.ID = m.id()
	}
	if a.OwnerType == "" {
		a.OwnerType = model.AccountOwnerSeller
	}
	m.st.accounts[a.ID] = a
	return a
}

func (m *memStore) addReturn(rr model.ReturnRequest) model.ReturnRequest {
	if rr.ID == 0 {
		rr.ID = m.id()
	}
	if rr.Status == "" {
		rr.Status = model.ReturnStatusPending
	}
	m.st.returns[rr.ID] = rr
	return rr
}

func (m *memStore) addUser(u model.User) model.User {
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.st.users[u.ID] = u
	return u
}

func (m *memStore) order(id int64) model.Order { return m.st.orders[id] }

func (m *memStore) item(id int64) model.OrderItem { return m.st.items[id] }

func (m *memStore) accountOf(sellerID int64) (model.SellerAccount, bool) {
	for _, a := range m.st.accounts {
		if a.OwnerType == model.AccountOwnerSeller && a.OwnerID == sellerID {
			return a, true
		}
	}
	return model.SellerAccount{}, false
}

func (m *memStore) txsOf(accountID int64, t model.TransactionType) []model.AccountTransaction {
	var out []model.AccountTransaction
	for _, tx := range m.st.txs {
		if tx.AccountID == accountID && tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

func (m *memStore) refundsOf(orderID int64) []model.Refund {
	var out []model.Refund
	for _, rf := range m.st.refunds {
		if rf.OrderID == orderID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =====================
// repository実装
// =====================

type memOrders struct{ m *memStore }

func (r memOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := r.m.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r memOrders) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r memOrders) FindByPaymentID(ctx context.Context, paymentID string) (model.Order, error) {
	for _, o := range r.m.st.orders {
		if o.PaymentID != nil && *o.PaymentID == paymentID {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r memOrders) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range r.m.st.orders {
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.PaymentStatus != "" && string(o.PaymentStatus) != f.PaymentStatus {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

func (r memOrders) Scan(ctx context.Context, f repo.OrderScanFilter) ([]model.Order, error) {
	var out []model.Order
	for _, o := range r.m.st.orders {
		if len(f.Statuses) > 0 && !containsValue(f.Statuses, o.Status) {
			continue
		}
		if len(f.PaymentStatuses) > 0 && !containsValue(f.PaymentStatuses, o.PaymentStatus) {
			continue
		}
		if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedBefore != nil && !o.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		if o.ID <= f.AfterID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memOrders) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	o, ok := r.m.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	r.m.st.orders[orderID] = o
	return nil
}

func (r memOrders) AdvanceStatus(ctx context.Context, orderID int64, from []model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error) {
	o, ok := r.m.st.orders[orderID]
	if !ok || !containsValue(from, o.Status) {
		return false, nil
	}
	o.Status = to
	switch to {
	case model.OrderStatusProcessing:
		o.PaidAt = &at
	case model.OrderStatusShipped:
		o.ShippedAt = &at
	case model.OrderStatusDelivered:
		o.DeliveredAt = &at
	}
	r.m.st.orders[orderID] = o
	return true, nil
}

func (r memOrders) UpdatePayment(ctx context.Context, orderID int64, status model.PaymentStatus, paymentID *string) error {
	o, ok := r.m.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	if paymentID != nil {
		for id, other := range r.m.st.orders {
			if id != orderID && other.PaymentID != nil && *other.PaymentID == *paymentID {
				return repo.ErrDuplicate
			}
		}
		v := *paymentID
		paymentID = &v
	}
	o.PaymentStatus = status
	o.PaymentID = paymentID
	r.m.st.orders[orderID] = o
	return nil
}

func (r memOrders) SetFraudStatus(ctx context.Context, orderID int64, status model.FraudStatus) error {
	o, ok := r.m.st.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.FraudStatus = &status
	r.m.st.orders[orderID] = o
	return nil
}

func (r memOrders) SetShippingCost(ctx context.Context, orderID int64, cost model.Money) error {
	o, ok := r.m.st.orders[orderID]
	if !ok || o.ShippingCost.Valid {
		return nil
	}
	o.ShippingCost = model.NullMoney(cost)
	r.m.st.orders[orderID] = o
	return nil
}

type memItems struct{ m *memStore }

func (r memItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	out := []model.OrderItem{}
	for _, it := range r.m.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memItems) FreezeCommission(ctx context.Context, itemID int64, b repo.CommissionBreakdown) (bool, error) {
	it, ok := r.m.st.items[itemID]
	if !ok || it.SellerRevenue.Valid {
		return false, nil
	}
	it.CommissionRate = model.NullMoney(b.CommissionRate)
	it.CommissionAmount = model.NullMoney(b.CommissionAmount)
	it.SellerRevenue = model.NullMoney(b.SellerRevenue)
	r.m.st.items[itemID] = it
	return true, nil
}

func (r memItems) MarkRefunded(ctx context.Context, itemIDs []int64, at time.Time) error {
	for _, id := range itemIDs {
		it, ok := r.m.st.items[id]
		if !ok || it.RefundedAt != nil {
			continue
		}
		it.RefundedAt = &at
		r.m.st.items[id] = it
	}
	return nil
}

func (r memItems) AssignSeller(ctx context.Context, itemID int64, sellerID int64) (bool, error) {
	it, ok := r.m.st.items[itemID]
	if !ok || it.SellerID != nil {
		return false, nil
	}
	it.SellerID = &sellerID
	r.m.st.items[itemID] = it
	return true, nil
}

type memProducts struct{ m *memStore }

func (r memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := r.m.st.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type memInventory struct{ m *memStore }

func (r memInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	r.m.st.stock[productID] += qty
	return nil
}

type memAccounts struct{ m *memStore }

func (r memAccounts) FindByID(ctx context.Context, accountID int64) (model.SellerAccount, error) {
	a, ok := r.m.st.accounts[accountID]
	if !ok {
		return model.SellerAccount{}, repo.ErrNotFound
	}
	return a, nil
}

func (r memAccounts) FindByIDForUpdate(ctx context.Context, accountID int64) (model.SellerAccount, error) {
	return r.FindByID(ctx, accountID)
}

func (r memAccounts) FindByOwner(ctx context.Context, ownerType model.AccountOwnerType, ownerID int64) (model.SellerAccount, error) {
	for _, a := range r.m.st.accounts {
		if a.OwnerType == ownerType && a.OwnerID == ownerID {
			return a, nil
		}
	}
	return model.SellerAccount{}, repo.ErrNotFound
}

func (r memAccounts) CreateIfAbsent(ctx context.Context, account model.SellerAccount) (model.SellerAccount, error) {
	if a, err := r.FindByOwner(ctx, account.OwnerType, account.OwnerID); err == nil {
		return a, nil
	}
	account.ID = r.m.id()
	r.m.st.accounts[account.ID] = account
	return account, nil
}

func (r memAccounts) UpdateBalances(ctx context.Context, accountID int64, balance model.Money, totalReceived model.Money, at time.Time) error {
	a, ok := r.m.st.accounts[accountID]
	if !ok {
		return repo.ErrNotFound
	}
	a.Balance = balance
	a.TotalReceived = totalReceived
	a.UpdatedAt = at
	r.m.st.accounts[accountID] = a
	return nil
}

func (r memAccounts) List(ctx context.Context, limit int, offset int) ([]model.SellerAccount, error) {
	var all []model.SellerAccount
	for _, a := range r.m.st.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return []model.SellerAccount{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type memTxs struct{ m *memStore }

func (r memTxs) Create(ctx context.Context, t model.AccountTransaction) (model.AccountTransaction, error) {
	t.ID = r.m.id()
	r.m.st.txs = append(r.m.st.txs, t)
	return t, nil
}

func (r memTxs) ListByAccountID(ctx context.Context, accountID int64, limit int, offset int) ([]model.AccountTransaction, int64, error) {
	var all []model.AccountTransaction
	for i := len(r.m.st.txs) - 1; i >= 0; i-- {
		if r.m.st.txs[i].AccountID == accountID {
			all = append(all, r.m.st.txs[i])
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []model.AccountTransaction{}, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r memTxs) SumCompleted(ctx context.Context, accountID int64) (model.Money, error) {
	sum := decimal.Zero
	for _, t := range r.m.st.txs {
		if t.AccountID == accountID && t.Status == model.TransactionStatusCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (r memTxs) ExistsForOrder(ctx context.Context, accountID int64, orderID int64, txType model.TransactionType) (bool, error) {
	for _, t := range r.m.st.txs {
		if t.AccountID == accountID && t.Type == txType && t.OrderID != nil && *t.OrderID == orderID &&
			t.Status == model.TransactionStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

type memRefunds struct{ m *memStore }

func (r memRefunds) Create(ctx context.Context, rf model.Refund) (model.Refund, error) {
	for _, other := range r.m.st.refunds {
		if other.IdempotencyKey == rf.IdempotencyKey {
			return model.Refund{}, repo.ErrDuplicate
		}
	}
	rf.ID = r.m.id()
	r.m.st.refunds[rf.ID] = rf
	return rf, nil
}

func (r memRefunds) FindByID(ctx context.Context, refundID int64) (model.Refund, error) {
	rf, ok := r.m.st.refunds[refundID]
	if !ok {
		return model.Refund{}, repo.ErrNotFound
	}
	return rf, nil
}

func (r memRefunds) Update(ctx context.Context, rf model.Refund) error {
	if _, ok := r.m.st.refunds[rf.ID]; !ok {
		return repo.ErrNotFound
	}
	r.m.st.refunds[rf.ID] = rf
	return nil
}

func (r memRefunds) SumByOrder(ctx context.Context, orderID int64, statuses []model.RefundStatus) (model.Money, error) {
	sum := decimal.Zero
	for _, rf := range r.m.st.refunds {
		if rf.OrderID == orderID && containsValue(statuses, rf.Status) {
			sum = sum.Add(rf.Amount)
		}
	}
	return sum, nil
}

func (r memRefunds) ListByOrder(ctx context.Context, orderID int64) ([]model.Refund, error) {
	return r.m.refundsOf(orderID), nil
}

func (r memRefunds) ListByStatus(ctx context.Context, status model.RefundStatus, afterID int64, limit int) ([]model.Refund, error) {
	var out []model.Refund
	for _, rf := range r.m.st.refunds {
		if rf.Status == status && rf.ID > afterID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memReturns struct{ m *memStore }

func (r memReturns) FindByIDForUpdate(ctx context.Context, returnID int64) (model.ReturnRequest, error) {
	rr, ok := r.m.st.returns[returnID]
	if !ok {
		return model.ReturnRequest{}, repo.ErrNotFound
	}
	return rr, nil
}

func (r memReturns) Update(ctx context.Context, rr model.ReturnRequest) error {
	if _, ok := r.m.st.returns[rr.ID]; !ok {
		return repo.ErrNotFound
	}
	r.m.st.returns[rr.ID] = rr
	return nil
}

type memUsers struct{ m *memStore }

func (r memUsers) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	u, ok := r.m.st.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func containsValue[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// 監査ログ（Tx内。巻き戻しで消える）
type memAudits struct{ m *memStore }

func (a memAudits) Create(ctx context.Context, log model.AuditLog) error {
	if a.m.auditErr != nil {
		return a.m.auditErr
	}
	log.ID = int64(len(a.m.st.audits) + 1)
	a.m.st.audits = append(a.m.st.audits, log)
	return nil
}

func (a memAudits) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	return a.m.st.audits, nil
}

// 監査ログ（Tx外）
type memAuditRepo struct {
	logs []model.AuditLog
}

func (a *memAuditRepo) Create(ctx context.Context, log model.AuditLog) error {
	log.ID = int64(len(a.logs) + 1)
	a.logs = append(a.logs, log)
	return nil
}

func (a *memAuditRepo) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	return a.logs, nil
}

// =====================
// 外部のモック
// =====================

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(model.GatewayPayment)
	return p, args.Error(1)
}

func (m *GatewayMock) SearchPayments(ctx context.Context, q model.PaymentSearchQuery) ([]model.GatewayPayment, error) {
	args := m.Called(ctx, q)
	ps, _ := args.Get(0).([]model.GatewayPayment)
	return ps, args.Error(1)
}

func (m *GatewayMock) CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (model.GatewayRefund, error) {
	args := m.Called(ctx, paymentID, amount, idempotencyKey)
	r, _ := args.Get(0).(model.GatewayRefund)
	return r, args.Error(1)
}

var _ usecase.PaymentGateway = (*GatewayMock)(nil)

type LockerMock struct{ mock.Mock }

func (m *LockerMock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	args := m.Called(ctx, name, ttl)
	release, _ := args.Get(0).(func())
	return release, args.Bool(1), args.Error(2)
}

type FlagStoreMock struct{ mock.Mock }

func (m *FlagStoreMock) IsSet(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *FlagStoreMock) Set(ctx context.Context, name string, ttl time.Duration) error {
	args := m.Called(ctx, name, ttl)
	return args.Error(0)
}

// =====================
// helper
// =====================

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newClock() *fixedClock { return &fixedClock{now: testNow} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func testRules() config.Rules { return config.DefaultRules() }

// 精算サービス一式
type settlementKit struct {
	store      *memStore
	clock      *fixedClock
	ledger     *usecase.LedgerWriter
	settlement *usecase.SettlementService
}

func newSettlementKit() settlementKit {
	store := newMemStore()
	clock := newClock()
	logger := discardLogger()
	rules := testRules()
	ledger := usecase.NewLedgerWriter(store, clock, logger)
	settlement := usecase.NewSettlementService(store, ledger, usecase.NewCommissionCalculator(rules), rules.FraudScoreThreshold, clock, logger)
	return settlementKit{store: store, clock: clock, ledger: ledger, settlement: settlement}
}

// 販売者1人・在庫品1点（100.00 x 2、手数料率既定の15%）の注文
func (k settlementKit) seedOrder(sellerID int64) (model.Order, model.OrderItem) {
	p := k.store.addProduct(model.Product{SellerID: sellerID, Name: "mug", Price: dec("100.00"), Stock: 10})
	o := k.store.addOrder(model.Order{
		UserID:    1,
		Total:     dec("200.00"),
		CreatedAt: testNow.Add(-time.Hour),
	})
	it := k.store.addItem(model.OrderItem{
		OrderID:             o.ID,
		ProductID:           p.ID,
		SellerID:            ptr(sellerID),
		ProductNameSnapshot: p.Name,
		UnitPriceSnapshot:   dec("100.00"),
		Quantity:            2,
	})
	return o, it
}

func approvedPayment(id string, orderID int64) model.GatewayPayment {
	return model.GatewayPayment{
		ID:                id,
		Status:            model.GatewayStatusApproved,
		Amount:            dec("200.00"),
		ExternalReference: model.ExternalReference(orderID),
		CreatedAt:         testNow,
	}
}
