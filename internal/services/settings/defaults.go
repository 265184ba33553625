package settings

import (
	"github.com/shopspring/decimal"

	"tidepay/internal/models"
)

// Defaults is the immutable fallback configuration used when neither an
// account-scoped nor a global row exists. It is constructed once and passed
// into the service; synthesized settings are copies and never persisted.
type Defaults struct {
	DiscountPercent            decimal.Decimal
	CardFeePercent             decimal.Decimal
	WithdrawalAutoApproveHours int
	WithdrawalProcessingDays   int
	AllowMixedPayments         bool
	AutoUseWalletFirst         bool
	RequireKycForWithdrawals   bool
	EnabledGateways            []string
	AllowUnlimitedDeposits     bool
	RequiredKycDocuments       []string
}

// NewDefaults returns the stock configuration.
func NewDefaults() Defaults {
	return Defaults{
		DiscountPercent:            decimal.Zero,
		CardFeePercent:             decimal.NewFromFloat(1.5),
		WithdrawalAutoApproveHours: 0,
		WithdrawalProcessingDays:   3,
		AllowMixedPayments:         true,
		AutoUseWalletFirst:         false,
		RequireKycForWithdrawals:   true,
		EnabledGateways:            []string{"stripe", "binance_pay"},
		AllowUnlimitedDeposits:     true,
		RequiredKycDocuments:       []string{"identity"},
	}
}

// synthesize builds an in-memory settings value for a scope from defaults.
func (d Defaults) synthesize(scopeType string, scopeID uint, currency string) *models.WalletSettings {
	unlimited := d.AllowUnlimitedDeposits
	gateways := make([]string, len(d.EnabledGateways))
	copy(gateways, d.EnabledGateways)
	docs := make([]string, len(d.RequiredKycDocuments))
	copy(docs, d.RequiredKycDocuments)

	return &models.WalletSettings{
		ScopeType:                  scopeType,
		ScopeID:                    scopeID,
		Currency:                   currency,
		DiscountPercent:            d.DiscountPercent,
		CardFeePercent:             d.CardFeePercent,
		WithdrawalAutoApproveHours: d.WithdrawalAutoApproveHours,
		WithdrawalProcessingDays:   d.WithdrawalProcessingDays,
		AllowMixedPayments:         d.AllowMixedPayments,
		AutoUseWalletFirst:         d.AutoUseWalletFirst,
		RequireKycForWithdrawals:   d.RequireKycForWithdrawals,
		EnabledGateways:            gateways,
		Preferences: models.SettingsPreferences{
			DepositPolicy:        models.DepositPolicy{AllowUnlimitedDeposits: &unlimited},
			RequiredKycDocuments: docs,
		},
	}
}
