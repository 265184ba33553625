package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the per (account, currency) wallet state. Rows are created
// lazily on the first transaction and never deleted; all mutations go
// through the ledger under a FOR UPDATE row lock.
type Balance struct {
	ID                    uint            `gorm:"primarykey"`
	AccountID             uint            `gorm:"not null;uniqueIndex:idx_balance_account_currency"`
	Currency              string          `gorm:"size:3;not null;uniqueIndex:idx_balance_account_currency"`
	AvailableAmount       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	PendingAmount         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	NonWithdrawableAmount decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	LastTransactionAt     *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
