package deposit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidepay/internal/gateway"
	"tidepay/internal/logger"
	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/ledger"
)

type fakeStore struct {
	mu           sync.Mutex
	deposits     map[uint]models.DepositRequest
	balances     map[string]models.Balance
	txns         map[uint]models.Transaction
	methods      map[uint]models.PaymentMethod
	bankAccounts map[uint]models.BankAccount
	audits       []models.AuditLog
	nextID       uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deposits:     make(map[uint]models.DepositRequest),
		balances:     make(map[string]models.Balance),
		txns:         make(map[uint]models.Transaction),
		methods:      make(map[uint]models.PaymentMethod),
		bankAccounts: make(map[uint]models.BankAccount),
	}
}

func balKey(accountID uint, currency string) string {
	return fmt.Sprintf("%d/%s", accountID, currency)
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) Atomically(ctx context.Context, fn func(UnitOfWork) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeUOW{store: f})
}

func (f *fakeStore) GetDeposit(ctx context.Context, id uint) (*models.DepositRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.deposits[id]; ok {
		copied := req
		return &copied, nil
	}
	return nil, repositories.ErrDepositNotFound
}

func (f *fakeStore) ListDeposits(ctx context.Context, filter Filter) ([]models.DepositRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DepositRequest
	for _, req := range f.deposits {
		if filter.AccountID != 0 && req.AccountID != filter.AccountID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (f *fakeStore) SumActiveDeposits(ctx context.Context, accountID uint, currency string, since time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, req := range f.deposits {
		if req.AccountID != accountID || req.Currency != currency {
			continue
		}
		if req.Status == models.DepositStatusCancelled || req.CreatedAt.Before(since) {
			continue
		}
		total = total.Add(req.Amount)
	}
	return total, nil
}

func (f *fakeStore) ActiveBankAccount(ctx context.Context, accountID uint, currency string) (*models.BankAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.bankAccounts[accountID]; ok && acct.Currency == currency {
		copied := acct
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) PaymentMethodByID(ctx context.Context, id uint) (*models.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.methods[id]; ok {
		copied := m
		return &copied, nil
	}
	return nil, repositories.ErrPaymentMethodNotFound
}

func (f *fakeStore) SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[method.ID] = *method
	return nil
}

type fakeUOW struct {
	store *fakeStore
}

func (u *fakeUOW) BalanceForUpdate(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	if b, ok := u.store.balances[balKey(accountID, currency)]; ok {
		copied := b
		return &copied, nil
	}
	return nil, repositories.ErrBalanceNotFound
}

func (u *fakeUOW) CreateBalance(ctx context.Context, balance *models.Balance) error {
	balance.ID = u.store.id()
	u.store.balances[balKey(balance.AccountID, balance.Currency)] = *balance
	return nil
}

func (u *fakeUOW) SaveBalance(ctx context.Context, balance *models.Balance) error {
	u.store.balances[balKey(balance.AccountID, balance.Currency)] = *balance
	return nil
}

func (u *fakeUOW) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	txn.ID = u.store.id()
	u.store.txns[txn.ID] = *txn
	return nil
}

func (u *fakeUOW) TransactionForUpdate(ctx context.Context, id uint) (*models.Transaction, error) {
	if t, ok := u.store.txns[id]; ok {
		copied := t
		return &copied, nil
	}
	return nil, repositories.ErrTransactionNotFound
}

func (u *fakeUOW) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	u.store.txns[txn.ID] = *txn
	return nil
}

func (u *fakeUOW) UpsertLegacyMirror(ctx context.Context, accountID uint, spentDelta decimal.Decimal, paidAt time.Time) error {
	return nil
}

func (u *fakeUOW) DepositForUpdate(ctx context.Context, id uint) (*models.DepositRequest, error) {
	if req, ok := u.store.deposits[id]; ok {
		copied := req
		return &copied, nil
	}
	return nil, repositories.ErrDepositNotFound
}

func (u *fakeUOW) CreateDeposit(ctx context.Context, req *models.DepositRequest) error {
	req.ID = u.store.id()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	u.store.deposits[req.ID] = *req
	return nil
}

func (u *fakeUOW) SaveDeposit(ctx context.Context, req *models.DepositRequest) error {
	u.store.deposits[req.ID] = *req
	return nil
}

func (u *fakeUOW) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	u.store.audits = append(u.store.audits, *entry)
	return nil
}

// recorderStore adapts the fake onto the ledger's store contract so a real
// ledger service can record inside the deposit unit of work.
type recorderStore struct{ f *fakeStore }

func (r recorderStore) Atomically(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	return r.f.Atomically(ctx, func(uow UnitOfWork) error { return fn(uow) })
}

func (r recorderStore) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if b, ok := r.f.balances[balKey(accountID, currency)]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
}

func (r recorderStore) SumCompletedDeltas(ctx context.Context, accountID uint, currency string) (*ledger.DeltaTotals, error) {
	return &ledger.DeltaTotals{}, nil
}

func (r recorderStore) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]models.Transaction, error) {
	return nil, nil
}

func (r recorderStore) GetTransactionByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return nil, repositories.ErrTransactionNotFound
}

func (r recorderStore) GetLegacyMirror(ctx context.Context, accountID uint) (*models.LegacyAccountMirror, error) {
	return nil, nil
}

type fakeSettings struct{ scope *models.WalletSettings }

func (f fakeSettings) ResolveForAccount(ctx context.Context, accountID uint, currency string) (*models.WalletSettings, error) {
	return f.scope, nil
}

type fakeGateway struct {
	name   string
	result *gateway.InitiationResult
	err    error
	calls  int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) InitiateDeposit(ctx context.Context, req gateway.InitiationRequest) (*gateway.InitiationResult, error) {
	g.calls++
	return g.result, g.err
}

func scopeWith(mutate func(*models.WalletSettings)) *models.WalletSettings {
	unlimited := true
	scope := &models.WalletSettings{
		ScopeType:       models.SettingsScopeGlobal,
		Currency:        "USD",
		EnabledGateways: []string{"stripe", "binance_pay"},
		Preferences: models.SettingsPreferences{
			DepositPolicy: models.DepositPolicy{AllowUnlimitedDeposits: &unlimited},
		},
	}
	if mutate != nil {
		mutate(scope)
	}
	return scope
}

func newDepositService(store *fakeStore, scope *models.WalletSettings, gateways ...gateway.Gateway) Service {
	recorder := ledger.NewService(recorderStore{f: store}, nil, ledger.Config{}, logger.NewNop())
	return NewService(store, fakeSettings{scope: scope}, gateway.NewRegistry(gateways...), recorder, logger.NewNop())
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCreateDepositRejectsPolicyCap(t *testing.T) {
	store := newFakeStore()
	limited := false
	cap50 := d("50.00")
	scope := scopeWith(func(s *models.WalletSettings) {
		s.Preferences.DepositPolicy.AllowUnlimitedDeposits = &limited
		s.Preferences.DepositPolicy.MaxPerTransaction = &cap50
	})
	svc := newDepositService(store, scope)

	_, err := svc.CreateDepositRequest(context.Background(), CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("75.00"), Method: models.DepositMethodManual,
	})
	assert.ErrorIs(t, err, ErrPolicyViolation)

	// Nothing persisted on a policy rejection.
	assert.Empty(t, store.deposits)
	assert.Empty(t, store.txns)
}

func TestCreateDepositEnforcesDailyCap(t *testing.T) {
	store := newFakeStore()
	limited := false
	day100 := d("100.00")
	scope := scopeWith(func(s *models.WalletSettings) {
		s.Preferences.DepositPolicy.AllowUnlimitedDeposits = &limited
		s.Preferences.DepositPolicy.MaxPerDay = &day100
	})
	svc := newDepositService(store, scope)
	ctx := context.Background()

	first, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("60.00"), Method: models.DepositMethodManual,
	})
	require.NoError(t, err)

	// A pending request already reserves its slice of the cap.
	_, err = svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("50.00"), Method: models.DepositMethodManual,
	})
	assert.ErrorIs(t, err, ErrPolicyViolation)

	// Cancelled requests release the cap again.
	_, err = svc.RejectDepositRequest(ctx, first.ID, 99, "customer changed mind")
	require.NoError(t, err)
	_, err = svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("50.00"), Method: models.DepositMethodManual,
	})
	assert.NoError(t, err)
}

func TestCreateDepositEnforcesMonthlyCap(t *testing.T) {
	store := newFakeStore()
	limited := false
	month150 := d("150.00")
	scope := scopeWith(func(s *models.WalletSettings) {
		s.Preferences.DepositPolicy.AllowUnlimitedDeposits = &limited
		s.Preferences.DepositPolicy.MaxPerMonth = &month150
	})
	svc := newDepositService(store, scope)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.CreateDepositRequest(ctx, CreateInput{
			AccountID: 1, Currency: "USD", Amount: d("70.00"), Method: models.DepositMethodManual,
		})
		require.NoError(t, err)
	}

	_, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("20.00"), Method: models.DepositMethodManual,
	})
	assert.ErrorIs(t, err, ErrPolicyViolation)

	// Another account's deposits do not count against this cap.
	_, err = svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 2, Currency: "USD", Amount: d("20.00"), Method: models.DepositMethodManual,
	})
	assert.NoError(t, err)
}

func TestCreateDepositRejectsNonPositiveAmount(t *testing.T) {
	svc := newDepositService(newFakeStore(), scopeWith(nil))

	_, err := svc.CreateDepositRequest(context.Background(), CreateInput{
		AccountID: 1, Currency: "USD", Amount: decimal.Zero, Method: models.DepositMethodManual,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateDepositUnsupportedMethod(t *testing.T) {
	svc := newDepositService(newFakeStore(), scopeWith(nil))

	_, err := svc.CreateDepositRequest(context.Background(), CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("10.00"), Method: "carrier_pigeon",
	})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestCreateBankTransferRequiresActiveBankAccount(t *testing.T) {
	store := newFakeStore()
	svc := newDepositService(store, scopeWith(nil))
	ctx := context.Background()

	_, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("100.00"), Method: models.DepositMethodBankTransfer,
	})
	assert.ErrorIs(t, err, ErrBankAccountRequired)

	store.bankAccounts[1] = models.BankAccount{ID: 11, AccountID: 1, Currency: "USD", Status: "active"}
	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("100.00"), Method: models.DepositMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusPending, req.Status)
	require.NotNil(t, req.BankAccountID)
	assert.Equal(t, uint(11), *req.BankAccountID)
	assert.True(t, strings.HasPrefix(req.BankReferenceCode, "BT-"))
	assert.True(t, strings.HasPrefix(req.ReferenceCode, "DEP-"))

	// The wallet is not credited until the transfer settles.
	assert.Empty(t, store.txns)
}

func TestCreateCardDepositAutoCompletes(t *testing.T) {
	store := newFakeStore()
	store.methods[3] = models.PaymentMethod{
		ID: 3, AccountID: 1, Type: "card",
		VerificationStatus: models.VerificationUnverified,
		DefaultGateway:     "stripe",
	}
	stripe := &fakeGateway{name: "stripe", result: &gateway.InitiationResult{
		TransactionID: "pi_123",
		AutoComplete:  true,
	}}
	svc := newDepositService(store, scopeWith(nil), stripe)

	methodID := uint(3)
	req, err := svc.CreateDepositRequest(context.Background(), CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("20.00"),
		Method: models.DepositMethodCard, PaymentMethodID: &methodID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stripe.calls)
	assert.Equal(t, models.DepositStatusCompleted, req.Status)
	assert.Equal(t, "stripe", req.Gateway)
	assert.Equal(t, "pi_123", req.GatewayTransactionID)
	assert.NotNil(t, req.CompletedAt)
	assert.Contains(t, req.Metadata, "ledger_transaction_id")

	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("20.00")))

	require.Len(t, store.txns, 1)
	for _, txn := range store.txns {
		assert.Equal(t, models.TransactionTypeDeposit, txn.Type)
		assert.True(t, txn.Amount.Equal(d("20.00")))
	}

	// A settled card deposit verifies the instrument.
	method := store.methods[3]
	assert.Equal(t, models.VerificationVerified, method.VerificationStatus)
	assert.NotNil(t, method.VerifiedAt)
}

func TestCreateDepositGatewayDisabled(t *testing.T) {
	store := newFakeStore()
	scope := scopeWith(func(s *models.WalletSettings) {
		s.EnabledGateways = []string{"binance_pay"}
	})
	stripe := &fakeGateway{name: "stripe", result: &gateway.InitiationResult{}}
	svc := newDepositService(store, scope, stripe)

	_, err := svc.CreateDepositRequest(context.Background(), CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("20.00"), Method: models.DepositMethodCard,
	})
	assert.ErrorIs(t, err, ErrGatewayDisabled)
	assert.Zero(t, stripe.calls)
	assert.Empty(t, store.deposits)
}

func TestApproveDepositCreditsOnce(t *testing.T) {
	store := newFakeStore()
	svc := newDepositService(store, scopeWith(nil))
	ctx := context.Background()

	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), Method: models.DepositMethodManual,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusPending, req.Status)

	approved, err := svc.ApproveDepositRequest(ctx, req.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusCompleted, approved.Status)
	assert.Equal(t, uint(99), approved.ProcessedBy)

	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("30.00")))

	// Re-approving a terminal request is refused and moves no money.
	_, err = svc.ApproveDepositRequest(ctx, req.ID, 99)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	balance = store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("30.00")))
	assert.Len(t, store.txns, 1)
}

func TestRejectDepositLeavesBalanceUntouched(t *testing.T) {
	store := newFakeStore()
	svc := newDepositService(store, scopeWith(nil))
	ctx := context.Background()

	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), Method: models.DepositMethodManual,
	})
	require.NoError(t, err)

	rejected, err := svc.RejectDepositRequest(ctx, req.ID, 99, "suspected fraud")
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusCancelled, rejected.Status)
	assert.Equal(t, "suspected fraud", rejected.FailureReason)
	assert.Empty(t, store.txns)

	_, err = svc.RejectDepositRequest(ctx, req.ID, 99, "again")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestBinanceDepositNeedsMoreInfoWithoutPayerMeta(t *testing.T) {
	store := newFakeStore()
	store.methods[4] = models.PaymentMethod{
		ID: 4, AccountID: 1, Type: "binance_pay",
		VerificationStatus: models.VerificationUnverified,
	}
	binance := &fakeGateway{name: "binance_pay", result: &gateway.InitiationResult{
		TransactionID: "bp_1",
	}}
	svc := newDepositService(store, scopeWith(nil), binance)
	ctx := context.Background()

	methodID := uint(4)
	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("15.00"),
		Method: models.DepositMethodBinancePay, Gateway: "binance_pay", PaymentMethodID: &methodID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusPending, req.Status)

	_, err = svc.ApproveDepositRequest(ctx, req.ID, 99)
	require.NoError(t, err)

	// Without payer id and payment hash the instrument is not trusted yet.
	method := store.methods[4]
	assert.Equal(t, models.VerificationNeedsMoreInfo, method.VerificationStatus)
	assert.Nil(t, method.VerifiedAt)
}

func TestAttachVerificationMetaVerifiesBinanceOnSettlement(t *testing.T) {
	store := newFakeStore()
	store.methods[4] = models.PaymentMethod{
		ID: 4, AccountID: 1, Type: "binance_pay",
		VerificationStatus: models.VerificationUnverified,
	}
	binance := &fakeGateway{name: "binance_pay", result: &gateway.InitiationResult{
		TransactionID: "bp_2",
	}}
	svc := newDepositService(store, scopeWith(nil), binance)
	ctx := context.Background()

	methodID := uint(4)
	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("15.00"),
		Method: models.DepositMethodBinancePay, Gateway: "binance_pay", PaymentMethodID: &methodID,
	})
	require.NoError(t, err)

	// The settlement callback carries the payer identity the initiation
	// never had; attaching it before approval trusts the instrument.
	err = svc.AttachVerificationMeta(ctx, req.ID, models.NewJSON(map[string]interface{}{
		"payer_id":     "payer7",
		"payment_hash": "tx9",
	}))
	require.NoError(t, err)

	_, err = svc.ApproveDepositRequest(ctx, req.ID, 0)
	require.NoError(t, err)

	method := store.methods[4]
	assert.Equal(t, models.VerificationVerified, method.VerificationStatus)
	assert.NotNil(t, method.VerifiedAt)
	assert.Equal(t, "payer7", method.VerificationMeta["payer_id"])
}

func TestAppendEventMetadataMerges(t *testing.T) {
	store := newFakeStore()
	svc := newDepositService(store, scopeWith(nil))
	ctx := context.Background()

	req, err := svc.CreateDepositRequest(ctx, CreateInput{
		AccountID: 1, Currency: "USD", Amount: d("10.00"), Method: models.DepositMethodManual,
		Metadata: models.NewJSON(map[string]interface{}{"origin": "mobile"}),
	})
	require.NoError(t, err)

	err = svc.AppendEventMetadata(ctx, req.ID, models.NewJSON(map[string]interface{}{"gateway_status": "under_review"}))
	require.NoError(t, err)

	stored, err := svc.GetDeposit(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "mobile", stored.Metadata["origin"])
	assert.Equal(t, "under_review", stored.Metadata["gateway_status"])
	assert.Equal(t, models.DepositStatusPending, stored.Status)
}
