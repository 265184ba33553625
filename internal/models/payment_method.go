package models

import "time"

// Payment method verification statuses.
const (
	VerificationUnverified    = "unverified"
	VerificationPending       = "pending"
	VerificationUnderReview   = "under_review"
	VerificationVerified      = "verified"
	VerificationRejected      = "rejected"
	VerificationNeedsMoreInfo = "needs_more_info"
)

// PaymentMethod is a stored payment instrument for an account. Withdrawals
// against it are gated on VerificationStatus when the scope requires KYC.
type PaymentMethod struct {
	ID        uint   `gorm:"primarykey"`
	AccountID uint   `gorm:"not null;index"`
	Type      string `gorm:"size:24;not null"`
	Provider  string `gorm:"size:32"`
	Status    string `gorm:"size:16;not null;default:'active'"`

	VerificationStatus string `gorm:"size:24;not null;default:'unverified'"`
	VerificationMeta   JSON   `gorm:"type:jsonb"`
	VerificationNotes  string
	ReviewedBy         uint
	VerifiedAt         *time.Time

	// Gateway used when a deposit does not name one explicitly.
	DefaultGateway string `gorm:"size:32"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
