package models

import "time"

// BankAccount is a bank-transfer destination owned by an account.
type BankAccount struct {
	ID            uint   `gorm:"primarykey"`
	AccountID     uint   `gorm:"not null;index"`
	Currency      string `gorm:"size:3;not null"`
	BankName      string `gorm:"size:128;not null"`
	AccountHolder string `gorm:"size:128;not null"`
	IBAN          string `gorm:"size:64"`
	AccountNumber string `gorm:"size:64"`
	SwiftCode     string `gorm:"size:16"`
	Status        string `gorm:"size:16;not null;default:'active'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
