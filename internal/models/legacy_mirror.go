package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegacyAccountMirror is a denormalized per-account spent counter kept for
// older reporting queries. Writes to it are feature-flagged and best-effort;
// a mirror failure never aborts a ledger write.
type LegacyAccountMirror struct {
	AccountID     uint            `gorm:"primarykey"`
	TotalSpent    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	LastPaymentAt *time.Time
	UpdatedAt     time.Time
}
