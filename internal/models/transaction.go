package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. The column is an open string enum; these are the values
// the engine itself writes. Collaborating flows may record their own types.
const (
	TransactionTypeDeposit              = "wallet_deposit"
	TransactionTypeWithdrawalRequest    = "withdrawal_request"
	TransactionTypeWithdrawalSettlement = "withdrawal_settlement"
	TransactionTypeWithdrawalReversal   = "withdrawal_reversal"
	TransactionTypePackagePurchase      = "package_purchase"
	TransactionTypePackageRefund        = "package_refund"
	TransactionTypePackageUsage         = "package_usage_settlement"
	TransactionTypeCharge               = "charge"
	TransactionTypeRefund               = "refund"
	TransactionTypeWalletLock           = "wallet_lock"
	TransactionTypeWalletUnlock         = "wallet_unlock"
	TransactionTypeWalletCapture        = "wallet_capture"
	TransactionTypeGenericReversal      = "transaction_reversal"
)

// Transaction statuses.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
)

// Transaction directions.
const (
	DirectionCredit     = "credit"
	DirectionDebit      = "debit"
	DirectionAdjustment = "adjustment"
)

// Transaction is one immutable ledger entry. It carries both the deltas
// applied to the three balance buckets and the resulting snapshots, so the
// history is auditable without replaying it.
type Transaction struct {
	ID        uint   `gorm:"primarykey"`
	AccountID uint   `gorm:"not null;index"`
	BalanceID uint   `gorm:"not null;index"`
	Type      string `gorm:"size:64;not null;index"`
	Status    string `gorm:"size:16;not null;default:'completed'"`
	Direction string `gorm:"size:16;not null"`

	Amount               decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	AvailableDelta       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PendingDelta         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	NonWithdrawableDelta decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	AvailableAfter       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PendingAfter         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	NonWithdrawableAfter decimal.Decimal `gorm:"type:numeric(20,2);not null"`

	Currency    string `gorm:"size:3;not null"`
	Description string
	Metadata    JSON `gorm:"type:jsonb"`

	// Optional link to the domain entity that caused this entry.
	RelatedEntityType string `gorm:"size:32"`
	RelatedEntityID   uint

	// Set on reversal entries, pointing at the transaction being reversed.
	ReversalOfID *uint `gorm:"index"`

	CreatedBy uint
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCredit reports whether the entry added funds to the available bucket.
func (t *Transaction) IsCredit() bool { return t.Direction == DirectionCredit }

// CountsTowardSpent reports whether the entry feeds the legacy spent mirror.
func (t *Transaction) CountsTowardSpent() bool {
	switch t.Type {
	case TransactionTypeDeposit, TransactionTypeRefund, TransactionTypePackageRefund:
		return t.AvailableDelta.IsPositive()
	}
	return false
}
