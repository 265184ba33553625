package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LessonPackage is a purchased block of hours. The refund calculator prices
// unused hours at Price/TotalHours when the package is force-deleted.
type LessonPackage struct {
	ID         uint            `gorm:"primarykey"`
	AccountID  uint            `gorm:"not null;index"`
	Currency   string          `gorm:"size:3;not null"`
	Name       string          `gorm:"size:128"`
	Price      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	TotalHours decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	UsedHours  decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Status     string          `gorm:"size:16;not null;default:'active'"`

	PurchaseTransactionID *uint

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PackageBooking links a scheduled session to a package. Rows must be
// cleared before the package row is deleted.
type PackageBooking struct {
	ID        uint            `gorm:"primarykey"`
	PackageID uint            `gorm:"not null;index"`
	BookingID uint            `gorm:"not null;index"`
	Hours     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	CreatedAt time.Time
}

// PackageParticipant links an attendee row to a package.
type PackageParticipant struct {
	ID            uint `gorm:"primarykey"`
	PackageID     uint `gorm:"not null;index"`
	ParticipantID uint `gorm:"not null"`
	CreatedAt     time.Time
}
