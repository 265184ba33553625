package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tidepay/internal/models"
)

// UnitOfWork is the mutable slice of storage a ledger write runs against.
// Every method executes inside the same database transaction, so the balance
// update and the transaction append commit or roll back together.
type UnitOfWork interface {
	BalanceForUpdate(ctx context.Context, accountID uint, currency string) (*models.Balance, error)
	CreateBalance(ctx context.Context, balance *models.Balance) error
	SaveBalance(ctx context.Context, balance *models.Balance) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	TransactionForUpdate(ctx context.Context, id uint) (*models.Transaction, error)
	SaveTransaction(ctx context.Context, txn *models.Transaction) error

	UpsertLegacyMirror(ctx context.Context, accountID uint, spentDelta decimal.Decimal, paidAt time.Time) error
}

// Store is the persistence contract of the ledger service.
type Store interface {
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error

	GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, error)
	SumCompletedDeltas(ctx context.Context, accountID uint, currency string) (*DeltaTotals, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	GetTransactionByID(ctx context.Context, id uint) (*models.Transaction, error)
	GetLegacyMirror(ctx context.Context, accountID uint) (*models.LegacyAccountMirror, error)
}

// BalanceCache is an optional read cache in front of balance rows.
type BalanceCache interface {
	GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, bool)
	SetBalance(ctx context.Context, balance *models.Balance)
	InvalidateBalance(ctx context.Context, accountID uint, currency string)
}

// Recorder is the slice of the ledger other services mutate balances
// through, inside their own unit of work.
type Recorder interface {
	Record(ctx context.Context, uow UnitOfWork, in RecordInput) (*models.Transaction, error)
}
