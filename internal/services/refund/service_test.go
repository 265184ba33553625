package refund

import (
	"context"
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
	mu           sync.Mutex
	packages     map[uint]models.LessonPackage
	bookings     map[uint]int64
	participants map[uint]int64
	purchased    map[uint]bool
	balances     map[string]models.Balance
	txns         map[uint]models.Transaction
	audits       []models.AuditLog
	nextID       uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		packages:     make(map[uint]models.LessonPackage),
		bookings:     make(map[uint]int64),
		participants: make(map[uint]int64),
		purchased:    make(map[uint]bool),
		balances:     make(map[string]models.Balance),
		txns:         make(map[uint]models.Transaction),
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

func (u *fakeUOW) PackageForUpdate(ctx context.Context, id uint) (*models.LessonPackage, error) {
	if pkg, ok := u.store.packages[id]; ok {
		copied := pkg
		return &copied, nil
	}
	return nil, repositories.ErrPackageNotFound
}

func (u *fakeUOW) DeletePackageBookings(ctx context.Context, packageID uint) (int64, error) {
	n := u.store.bookings[packageID]
	delete(u.store.bookings, packageID)
	return n, nil
}

func (u *fakeUOW) DeletePackageParticipants(ctx context.Context, packageID uint) (int64, error) {
	n := u.store.participants[packageID]
	delete(u.store.participants, packageID)
	return n, nil
}

func (u *fakeUOW) DeletePackage(ctx context.Context, id uint) error {
	if _, ok := u.store.packages[id]; !ok {
		return repositories.ErrPackageNotFound
	}
	delete(u.store.packages, id)
	return nil
}

func (u *fakeUOW) HasCompletedPurchase(ctx context.Context, packageID uint) (bool, error) {
	return u.store.purchased[packageID], nil
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

func newRefundService(store *fakeStore) Service {
	recorder := ledger.NewService(recorderStore{f: store}, nil, ledger.Config{}, logger.NewNop())
	return NewService(store, recorder, logger.NewNop())
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func seedPackage(store *fakeStore, pkg models.LessonPackage, paid bool) uint {
	pkg.ID = store.id()
	store.packages[pkg.ID] = pkg
	store.purchased[pkg.ID] = paid
	return pkg.ID
}

func TestForceDeleteRefundsUnusedHours(t *testing.T) {
	store := newFakeStore()
	purchaseTxnID := uint(77)
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD", Name: "starter",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("3"),
		PurchaseTransactionID: &purchaseTxnID,
	}, true)
	store.bookings[pkgID] = 2
	store.participants[pkgID] = 4
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{
		PackageID: pkgID, ActorID: 9, Reason: "schedule conflict",
	})
	require.NoError(t, err)
	assert.True(t, res.WasPaid)
	// 7 remaining hours at 10.00/hour.
	assert.True(t, res.RefundAmount.Equal(d("70.00")), "got %s", res.RefundAmount)
	assert.True(t, res.UsageChargeAmount.IsZero())
	assert.Equal(t, int64(2), res.BookingsCleared)
	assert.Equal(t, int64(4), res.ParticipantsCleared)

	require.Len(t, res.Transactions, 1)
	txn := res.Transactions[0]
	assert.Equal(t, models.TransactionTypePackageRefund, txn.Type)
	assert.True(t, txn.Amount.Equal(d("70.00")))
	require.NotNil(t, txn.ReversalOfID)
	assert.Equal(t, purchaseTxnID, *txn.ReversalOfID)

	balance := store.balances[balKey(1, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("70.00")))

	// The package and its linkage rows are gone.
	assert.NotContains(t, store.packages, pkgID)
	assert.NotContains(t, store.bookings, pkgID)
	assert.NotContains(t, store.participants, pkgID)
}

func TestForceDeleteFullyUsedPaidPackage(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("10"),
	}, true)
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{PackageID: pkgID, ActorID: 9})
	require.NoError(t, err)
	assert.True(t, res.WasPaid)
	assert.True(t, res.RefundAmount.IsZero())
	assert.Empty(t, res.Transactions)
	assert.Empty(t, store.txns)
}

func TestForceDeleteUnpaidChargesUsedHours(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 2, Currency: "USD",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("4"),
	}, false)
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{
		PackageID: pkgID, ActorID: 9, ChargeForUsedHours: true,
	})
	require.NoError(t, err)
	assert.False(t, res.WasPaid)
	assert.True(t, res.RefundAmount.IsZero())
	assert.True(t, res.UsageChargeAmount.Equal(d("40.00")), "got %s", res.UsageChargeAmount)

	require.Len(t, res.Transactions, 1)
	assert.Equal(t, models.TransactionTypePackageUsage, res.Transactions[0].Type)

	// The wallet was empty, so the settlement drives it negative.
	balance := store.balances[balKey(2, "USD")]
	assert.True(t, balance.AvailableAmount.Equal(d("-40.00")))
}

func TestForceDeleteUnpaidDisallowNegative(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 2, Currency: "USD",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("4"),
	}, false)
	svc := newRefundService(store)

	_, err := svc.ForceDeletePackage(context.Background(), DeleteInput{
		PackageID: pkgID, ActorID: 9, ChargeForUsedHours: true, DisallowNegative: true,
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestForceDeleteUnpaidWithoutChargeFlag(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 2, Currency: "USD",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("4"),
	}, false)
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{PackageID: pkgID, ActorID: 9})
	require.NoError(t, err)
	assert.True(t, res.UsageChargeAmount.IsZero())
	assert.Empty(t, res.Transactions)
	assert.NotContains(t, store.packages, pkgID)
}

func TestForceDeleteRoundsProration(t *testing.T) {
	store := newFakeStore()
	// 100.00 over 3 hours, 1 used: 2 * 33.333... rounds to 66.67.
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD",
		Price: d("100.00"), TotalHours: d("3"), UsedHours: d("1"),
	}, true)
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{PackageID: pkgID, ActorID: 9})
	require.NoError(t, err)
	assert.True(t, res.RefundAmount.Equal(d("66.67")), "got %s", res.RefundAmount)
}

func TestForceDeleteOverusedClampsToZero(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD",
		Price: d("100.00"), TotalHours: d("10"), UsedHours: d("12"),
	}, true)
	svc := newRefundService(store)

	res, err := svc.ForceDeletePackage(context.Background(), DeleteInput{PackageID: pkgID, ActorID: 9})
	require.NoError(t, err)
	assert.True(t, res.RefundAmount.IsZero())
	assert.Empty(t, res.Transactions)
}

func TestForceDeleteValidation(t *testing.T) {
	store := newFakeStore()
	svc := newRefundService(store)
	ctx := context.Background()

	_, err := svc.ForceDeletePackage(ctx, DeleteInput{PackageID: 404, ActorID: 9})
	assert.ErrorIs(t, err, ErrPackageNotFound)

	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD", Price: d("100.00"), TotalHours: decimal.Zero,
	}, true)
	_, err = svc.ForceDeletePackage(ctx, DeleteInput{PackageID: pkgID, ActorID: 9})
	assert.ErrorIs(t, err, ErrInvalidPackage)
}

func TestForceDeleteAppendsAudit(t *testing.T) {
	store := newFakeStore()
	pkgID := seedPackage(store, models.LessonPackage{
		AccountID: 1, Currency: "USD", Price: d("50.00"), TotalHours: d("5"), UsedHours: d("5"),
	}, true)
	svc := newRefundService(store)

	_, err := svc.ForceDeletePackage(context.Background(), DeleteInput{PackageID: pkgID, ActorID: 9, Reason: "cleanup"})
	require.NoError(t, err)

	require.Len(t, store.audits, 1)
	assert.Equal(t, "package_force_deleted", store.audits[0].Action)
	assert.Equal(t, pkgID, store.audits[0].EntityID)
}
