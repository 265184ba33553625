package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidepay/internal/logger"
	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/ledger"
)

type fakeStore struct {
	mu          sync.Mutex
	withdrawals map[uint]models.WithdrawalRequest
	balances    map[string]models.Balance
	txns        map[uint]models.Transaction
	audits      []models.AuditLog
	nextID      uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		withdrawals: make(map[uint]models.WithdrawalRequest),
		balances:    make(map[string]models.Balance),
		txns:        make(map[uint]models.Transaction),
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

func (f *fakeStore) GetWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.withdrawals[id]; ok {
		copied := req
		return &copied, nil
	}
	return nil, repositories.ErrWithdrawalNotFound
}

func (f *fakeStore) ListWithdrawals(ctx context.Context, filter Filter) ([]models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, req := range f.withdrawals {
		if filter.AccountID != 0 && req.AccountID != filter.AccountID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[balKey(accountID, currency)]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
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

func (u *fakeUOW) WithdrawalForUpdate(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	if req, ok := u.store.withdrawals[id]; ok {
		copied := req
		return &copied, nil
	}
	return nil, repositories.ErrWithdrawalNotFound
}

func (u *fakeUOW) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	req.ID = u.store.id()
	u.store.withdrawals[req.ID] = *req
	return nil
}

func (u *fakeUOW) SaveWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	u.store.withdrawals[req.ID] = *req
	return nil
}

func (u *fakeUOW) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	u.store.audits = append(u.store.audits, *entry)
	return nil
}

type recorderStore struct{ f *fakeStore }

func (r recorderStore) Atomically(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	return r.f.Atomically(ctx, func(uow UnitOfWork) error { return fn(uow) })
}

func (r recorderStore) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error) {
	return r.f.GetBalance(ctx, accountID, currency)
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

type fakeVerifier struct {
	methodErr      error
	eligibilityErr error
	docsAsked      []string
}

func (f *fakeVerifier) VerifiedPayoutMethod(ctx context.Context, accountID, methodID uint) (*models.PaymentMethod, error) {
	if f.methodErr != nil {
		return nil, f.methodErr
	}
	return &models.PaymentMethod{ID: methodID, AccountID: accountID, VerificationStatus: models.VerificationVerified}, nil
}

func (f *fakeVerifier) CheckWithdrawalEligibility(ctx context.Context, accountID uint, requiredDocs []string) error {
	f.docsAsked = requiredDocs
	return f.eligibilityErr
}

func newWithdrawalService(store *fakeStore, scope *models.WalletSettings, verifier *fakeVerifier) Service {
	recorder := ledger.NewService(recorderStore{f: store}, nil, ledger.Config{}, logger.NewNop())
	return NewService(store, fakeSettings{scope: scope}, verifier, recorder, logger.NewNop())
}

func kycScope(required bool) *models.WalletSettings {
	return &models.WalletSettings{
		ScopeType:                models.SettingsScopeGlobal,
		Currency:                 "USD",
		RequireKycForWithdrawals: required,
		Preferences: models.SettingsPreferences{
			RequiredKycDocuments: []string{"identity"},
		},
	}
}

func fund(store *fakeStore, accountID uint, currency, amount string) {
	store.balances[balKey(accountID, currency)] = models.Balance{
		ID:              store.id(),
		AccountID:       accountID,
		Currency:        currency,
		AvailableAmount: d(amount),
		PendingAmount:   decimal.Zero,
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRequestWithdrawalLocksFunds(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	verifier := &fakeVerifier{}
	svc := newWithdrawalService(store, kycScope(true), verifier)

	req, err := svc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("60.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, req.Status)
	require.NotNil(t, req.LockTransactionID)
	assert.Equal(t, []string{"identity"}, verifier.docsAsked)

	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("40.00")))
	assert.True(t, balance.PendingAmount.Equal(d("60.00")))

	lock := store.txns[*req.LockTransactionID]
	assert.Equal(t, models.TransactionTypeWithdrawalRequest, lock.Type)
	assert.True(t, lock.AvailableDelta.Equal(d("-60.00")))
	assert.True(t, lock.PendingDelta.Equal(d("60.00")))
}

func TestRequestWithdrawalKycGate(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	verifier := &fakeVerifier{methodErr: errors.New("payment method not verified")}
	svc := newWithdrawalService(store, kycScope(true), verifier)

	_, err := svc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("10.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	assert.ErrorIs(t, err, ErrVerificationRequired)
	assert.Empty(t, store.withdrawals)
	assert.Empty(t, store.txns)

	// The same request passes when the scope waives KYC.
	svcNoKyc := newWithdrawalService(store, kycScope(false), verifier)
	_, err = svcNoKyc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("10.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	assert.NoError(t, err)
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "20.00")
	svc := newWithdrawalService(store, kycScope(false), &fakeVerifier{})

	_, err := svc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("50.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No balance row at all behaves the same.
	_, err = svc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 2, Currency: "USD", Amount: d("5.00"), PaymentMethodID: 3, RequestedBy: 2,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRequestWithdrawalInvalidAmount(t *testing.T) {
	svc := newWithdrawalService(newFakeStore(), kycScope(false), &fakeVerifier{})

	_, err := svc.RequestWithdrawal(context.Background(), RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("-5.00"), PaymentMethodID: 3,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApproveWithdrawalRechecksKyc(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	verifier := &fakeVerifier{}
	svc := newWithdrawalService(store, kycScope(true), verifier)
	ctx := context.Background()

	req, err := svc.RequestWithdrawal(ctx, RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	require.NoError(t, err)

	// Requirements tightened between request and review.
	verifier.eligibilityErr = errors.New("missing identity document")
	_, err = svc.ApproveWithdrawal(ctx, req.ID, 99)
	assert.ErrorIs(t, err, ErrVerificationRequired)

	verifier.eligibilityErr = nil
	approved, err := svc.ApproveWithdrawal(ctx, req.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusProcessing, approved.Status)
	assert.Equal(t, uint(99), approved.ApprovedBy)

	// Approving twice is an invalid transition, not a silent no-op.
	_, err = svc.ApproveWithdrawal(ctx, req.ID, 99)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinalizeWithdrawalSuccess(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	svc := newWithdrawalService(store, kycScope(false), &fakeVerifier{})
	ctx := context.Background()

	req, err := svc.RequestWithdrawal(ctx, RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	require.NoError(t, err)
	_, err = svc.ApproveWithdrawal(ctx, req.ID, 99)
	require.NoError(t, err)

	finalized, err := svc.FinalizeWithdrawal(ctx, req.ID, true, 99, "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, finalized.Status)
	assert.NotNil(t, finalized.CompletedAt)

	// The pending hold left the wallet for good.
	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("70.00")))
	assert.True(t, balance.PendingAmount.IsZero())

	// Finalizing again is refused without moving money.
	_, err = svc.FinalizeWithdrawal(ctx, req.ID, true, 99, "")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	balance = store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("70.00")))
}

func TestFinalizeWithdrawalFailureRestoresFunds(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	svc := newWithdrawalService(store, kycScope(false), &fakeVerifier{})
	ctx := context.Background()

	req, err := svc.RequestWithdrawal(ctx, RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	require.NoError(t, err)
	_, err = svc.ApproveWithdrawal(ctx, req.ID, 99)
	require.NoError(t, err)

	finalized, err := svc.FinalizeWithdrawal(ctx, req.ID, false, 99, "payout bounced")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, finalized.Status)
	assert.Equal(t, "payout bounced", finalized.RejectionReason)

	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("100.00")))
	assert.True(t, balance.PendingAmount.IsZero())

	// The reversal links back to the original lock entry.
	var reversal *models.Transaction
	for id := range store.txns {
		txn := store.txns[id]
		if txn.Type == models.TransactionTypeWithdrawalReversal {
			reversal = &txn
		}
	}
	require.NotNil(t, reversal)
	require.NotNil(t, reversal.ReversalOfID)
	assert.Equal(t, *req.LockTransactionID, *reversal.ReversalOfID)
}

func TestFinalizeWithdrawalRequiresProcessing(t *testing.T) {
	store := newFakeStore()
	fund(store, 1, "USD", "100.00")
	verifier := &fakeVerifier{}
	svc := newWithdrawalService(store, kycScope(true), verifier)
	ctx := context.Background()

	req, err := svc.RequestWithdrawal(ctx, RequestInput{
		AccountID: 1, Currency: "USD", Amount: d("30.00"), PaymentMethodID: 3, RequestedBy: 1,
	})
	require.NoError(t, err)

	// A pending request has not passed the approval-time verification
	// re-check yet, so it cannot settle directly.
	_, err = svc.FinalizeWithdrawal(ctx, req.ID, true, 99, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.WithdrawalStatusPending, store.withdrawals[req.ID].Status)

	// The lock is untouched.
	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("70.00")))
	assert.True(t, balance.PendingAmount.Equal(d("30.00")))

	_, err = svc.ApproveWithdrawal(ctx, req.ID, 99)
	require.NoError(t, err)
	finalized, err := svc.FinalizeWithdrawal(ctx, req.ID, true, 99, "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, finalized.Status)
}

func TestGetWithdrawalNotFound(t *testing.T) {
	svc := newWithdrawalService(newFakeStore(), kycScope(false), &fakeVerifier{})

	_, err := svc.GetWithdrawal(context.Background(), 404)
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}
