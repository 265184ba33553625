package models

import "time"

// KYC document statuses.
const (
	KycStatusPending       = "pending"
	KycStatusUnderReview   = "under_review"
	KycStatusApproved      = "approved"
	KycStatusRejected      = "rejected"
	KycStatusNeedsMoreInfo = "needs_more_info"
)

// KycDocument is one submitted compliance document. An account is eligible
// to withdraw once every required document type in its resolved settings has
// at least one approved document.
type KycDocument struct {
	ID              uint   `gorm:"primarykey"`
	AccountID       uint   `gorm:"not null;index"`
	PaymentMethodID *uint  `gorm:"index"`
	DocumentType    string `gorm:"size:32;not null"`
	Status          string `gorm:"size:24;not null;default:'pending'"`

	FileURL     string
	ReviewNotes string
	ReviewedBy  uint
	ReviewedAt  *time.Time
	Metadata    JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
