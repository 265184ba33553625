package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tidepay/internal/models"
)

// FundsOp is the shared signature of the lock, release and capture
// operations.
type FundsOp func(ctx context.Context, accountID uint, currency string, amount decimal.Decimal, bookingID uint, actorID uint) (*models.Transaction, error)

// Deltas are the per-bucket balance mutations of one transaction.
type Deltas struct {
	Available       decimal.Decimal
	Pending         decimal.Decimal
	NonWithdrawable decimal.Decimal
}

// RecordInput describes one ledger entry to append. When Deltas is nil the
// signed Amount is applied to the available bucket.
type RecordInput struct {
	AccountID     uint
	Currency      string
	Type          string
	Amount        decimal.Decimal
	Deltas        *Deltas
	Status        string
	Direction     string
	AllowNegative bool
	Description   string
	Metadata      models.JSON

	RelatedEntityType string
	RelatedEntityID   uint
	ReversalOfID      *uint

	CreatedBy uint
}

// AccountSummary is the aggregate view over one (account, currency) ledger.
type AccountSummary struct {
	Available       decimal.Decimal `json:"available"`
	Pending         decimal.Decimal `json:"pending"`
	NonWithdrawable decimal.Decimal `json:"nonWithdrawable"`
	TotalCredits    decimal.Decimal `json:"totalCredits"`
	TotalDebits     decimal.Decimal `json:"totalDebits"`
	TotalSpent      decimal.Decimal `json:"totalSpent"`

	LastCreditAt      *time.Time `json:"lastCreditAt,omitempty"`
	LastTransactionAt *time.Time `json:"lastTransactionAt,omitempty"`
}

// TransactionFilter narrows FetchTransactions.
type TransactionFilter struct {
	AccountID uint
	Currency  string
	Types     []string
	Statuses  []string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// DeltaTotals are the aggregated completed available-deltas of a ledger.
type DeltaTotals struct {
	Credits      decimal.Decimal
	Debits       decimal.Decimal
	LastCreditAt *time.Time
}
