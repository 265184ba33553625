package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings scopes.
const (
	SettingsScopeGlobal  = "global"
	SettingsScopeAccount = "account"
)

// DepositPolicy caps deposit sizes for a scope. Nil caps mean "no cap for
// that window"; the flags and caps merge field-by-field on save.
type DepositPolicy struct {
	AllowUnlimitedDeposits *bool            `json:"allowUnlimitedDeposits,omitempty"`
	MaxPerTransaction      *decimal.Decimal `json:"maxPerTransaction,omitempty"`
	MaxPerDay              *decimal.Decimal `json:"maxPerDay,omitempty"`
	MaxPerMonth            *decimal.Decimal `json:"maxPerMonth,omitempty"`
}

// Unlimited reports whether per-transaction caps are disabled.
func (p DepositPolicy) Unlimited() bool {
	return p.AllowUnlimitedDeposits == nil || *p.AllowUnlimitedDeposits
}

// SettingsPreferences is the structured preferences document.
type SettingsPreferences struct {
	DepositPolicy        DepositPolicy `json:"depositPolicy"`
	RequiredKycDocuments []string      `json:"requiredKycDocuments,omitempty"`
}

// WalletSettings is scoped wallet configuration: a global default per
// currency plus optional per-account overrides. Rows are upserted, never
// deleted.
type WalletSettings struct {
	ID        uint   `gorm:"primarykey"`
	ScopeType string `gorm:"size:16;not null;uniqueIndex:idx_settings_scope"`
	ScopeID   uint   `gorm:"not null;uniqueIndex:idx_settings_scope"`
	Currency  string `gorm:"size:3;not null;uniqueIndex:idx_settings_scope"`

	DiscountPercent decimal.Decimal `gorm:"type:numeric(6,3);not null;default:0"`
	CardFeePercent  decimal.Decimal `gorm:"type:numeric(6,3);not null;default:0"`

	WithdrawalAutoApproveHours int `gorm:"not null;default:0"`
	WithdrawalProcessingDays   int `gorm:"not null;default:3"`

	AllowMixedPayments       bool `gorm:"not null;default:true"`
	AutoUseWalletFirst       bool `gorm:"not null;default:false"`
	RequireKycForWithdrawals bool `gorm:"not null;default:true"`

	EnabledGateways []string            `gorm:"serializer:json;type:jsonb"`
	Preferences     SettingsPreferences `gorm:"serializer:json;type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GatewayEnabled reports whether a gateway is in the scope's enabled set.
func (s *WalletSettings) GatewayEnabled(name string) bool {
	for _, g := range s.EnabledGateways {
		if g == name {
			return true
		}
	}
	return false
}
