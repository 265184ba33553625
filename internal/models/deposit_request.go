package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit methods.
const (
	DepositMethodCard         = "card"
	DepositMethodBankTransfer = "bank_transfer"
	DepositMethodBinancePay   = "binance_pay"
	DepositMethodCrypto       = "crypto"
	DepositMethodManual       = "manual"
)

// Deposit request statuses. Completed and cancelled are terminal;
// re-entering them is an idempotent no-op.
const (
	DepositStatusPending    = "pending"
	DepositStatusProcessing = "processing"
	DepositStatusCompleted  = "completed"
	DepositStatusCancelled  = "cancelled"
)

// DepositRequest tracks one deposit from creation through gateway
// initiation to settlement.
type DepositRequest struct {
	ID        uint            `gorm:"primarykey"`
	AccountID uint            `gorm:"not null;index"`
	Currency  string          `gorm:"size:3;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Method    string          `gorm:"size:24;not null"`
	Status    string          `gorm:"size:16;not null;default:'pending';index"`

	Gateway              string `gorm:"size:32;index"`
	GatewayTransactionID string `gorm:"size:128;index"`
	ReferenceCode        string `gorm:"size:64;index"`
	BankReferenceCode    string `gorm:"size:64"`

	PaymentMethodID  *uint
	BankAccountID    *uint
	VerificationMeta JSON `gorm:"type:jsonb"`

	InitiatedBy   uint
	ProcessedBy   uint
	FailureReason string
	Metadata      JSON `gorm:"type:jsonb"`

	ProcessedAt *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Finalized reports whether the request reached a terminal status.
func (d *DepositRequest) Finalized() bool {
	return d.Status == DepositStatusCompleted || d.Status == DepositStatusCancelled
}
