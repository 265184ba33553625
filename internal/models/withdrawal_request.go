package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request statuses.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusRejected   = "rejected"
)

// WithdrawalRequest tracks a payout from request through approval to
// settlement or reversal. The requested amount sits in the pending bucket
// for the whole lifetime of the request.
type WithdrawalRequest struct {
	ID        uint            `gorm:"primarykey"`
	AccountID uint            `gorm:"not null;index"`
	Currency  string          `gorm:"size:3;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Status    string          `gorm:"size:16;not null;default:'pending';index"`

	PaymentMethodID uint `gorm:"not null"`

	LockTransactionID *uint

	RequestedBy     uint
	ApprovedBy      uint
	RejectionReason string
	Metadata        JSON `gorm:"type:jsonb"`

	ProcessedAt *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Finalized reports whether the request reached a terminal status.
func (w *WithdrawalRequest) Finalized() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusRejected
}
