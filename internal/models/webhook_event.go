package models

import "time"

// WebhookEvent persists one normalized inbound gateway callback. The unique
// dedupe key is the idempotency primitive: a redelivery loses the insert
// race, bumps RetryCount and gets the stored outcome back.
type WebhookEvent struct {
	ID        uint   `gorm:"primarykey"`
	Provider  string `gorm:"size:32;not null;index"`
	EventType string `gorm:"size:64"`

	ExternalID       string `gorm:"size:128"`
	TransactionID    string `gorm:"size:128"`
	ReferenceCode    string `gorm:"size:64"`
	DepositRequestID *uint  `gorm:"index"`

	DedupeKey  string `gorm:"size:160;not null;uniqueIndex"`
	RawPayload JSON   `gorm:"type:jsonb"`
	Outcome    JSON   `gorm:"type:jsonb"`

	Processed   bool `gorm:"not null;default:false"`
	ProcessedAt *time.Time
	RetryCount  int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
