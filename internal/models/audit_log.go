package models

import "time"

// AuditLog records administrative and lifecycle actions: settings saves,
// deposit/withdrawal transitions, verification reviews.
type AuditLog struct {
	ID         uint   `gorm:"primarykey"`
	ActorID    uint   `gorm:"index"`
	Action     string `gorm:"size:64;not null;index"`
	EntityType string `gorm:"size:32;not null"`
	EntityID   uint
	Details    JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}
