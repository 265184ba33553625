// Package settings resolves scoped wallet configuration: an exact
// account-scoped row, falling back to the global row for the currency,
// falling back to synthesized defaults.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepay/internal/models"
)

// Service errors
var (
	ErrInvalidScope     = errors.New("invalid settings scope")
	ErrSettingsNotFound = errors.New("settings not found")
)

// Store is the persistence contract of the settings service.
type Store interface {
	GetSettings(ctx context.Context, scopeType string, scopeID uint, currency string) (*models.WalletSettings, error)
	UpsertSettings(ctx context.Context, settings *models.WalletSettings) error
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// DepositPolicyUpdate merges field-by-field onto the stored policy; nil
// fields keep their previous value.
type DepositPolicyUpdate struct {
	AllowUnlimitedDeposits *bool            `json:"allowUnlimitedDeposits,omitempty"`
	MaxPerTransaction      *decimal.Decimal `json:"maxPerTransaction,omitempty"`
	MaxPerDay              *decimal.Decimal `json:"maxPerDay,omitempty"`
	MaxPerMonth            *decimal.Decimal `json:"maxPerMonth,omitempty"`
}

// PreferencesUpdate is a partial update of the preferences document.
type PreferencesUpdate struct {
	DepositPolicy        *DepositPolicyUpdate `json:"depositPolicy,omitempty"`
	RequiredKycDocuments *[]string            `json:"requiredKycDocuments,omitempty"`
}

// Update is a partial settings update. Nil fields are left untouched;
// the deposit policy sub-document merges rather than overwrites.
type Update struct {
	DiscountPercent            *decimal.Decimal   `json:"discountPercent,omitempty"`
	CardFeePercent             *decimal.Decimal   `json:"cardFeePercent,omitempty"`
	WithdrawalAutoApproveHours *int               `json:"withdrawalAutoApproveHours,omitempty"`
	WithdrawalProcessingDays   *int               `json:"withdrawalProcessingDays,omitempty"`
	AllowMixedPayments         *bool              `json:"allowMixedPayments,omitempty"`
	AutoUseWalletFirst         *bool              `json:"autoUseWalletFirst,omitempty"`
	RequireKycForWithdrawals   *bool              `json:"requireKycForWithdrawals,omitempty"`
	EnabledGateways            *[]string          `json:"enabledGateways,omitempty"`
	Preferences                *PreferencesUpdate `json:"preferences,omitempty"`
}

// Service resolves and persists scoped wallet settings.
type Service interface {
	GetSettings(ctx context.Context, scopeType string, scopeID uint, currency string, includeDefaults bool) (*models.WalletSettings, error)
	ResolveForAccount(ctx context.Context, accountID uint, currency string) (*models.WalletSettings, error)
	SaveSettings(ctx context.Context, scopeType string, scopeID uint, currency string, update Update, actorID uint) (*models.WalletSettings, error)
	UpdateAccountPreferences(ctx context.Context, accountID uint, currency string, prefs PreferencesUpdate, actorID uint) (*models.WalletSettings, error)
}

type service struct {
	store    Store
	defaults Defaults
	log      *zap.SugaredLogger
}

// NewService creates the settings service around an immutable default set.
func NewService(store Store, defaults Defaults, log *zap.SugaredLogger) Service {
	if store == nil {
		panic("store is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &service{store: store, defaults: defaults, log: log}
}

// GetSettings resolves in order: exact scope row, global row for the
// currency, synthesized defaults (when requested).
func (s *service) GetSettings(ctx context.Context, scopeType string, scopeID uint, currency string, includeDefaults bool) (*models.WalletSettings, error) {
	if scopeType != models.SettingsScopeGlobal && scopeType != models.SettingsScopeAccount {
		return nil, ErrInvalidScope
	}

	found, err := s.store.GetSettings(ctx, scopeType, scopeID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if found != nil {
		return found, nil
	}

	if scopeType != models.SettingsScopeGlobal {
		global, err := s.store.GetSettings(ctx, models.SettingsScopeGlobal, 0, currency)
		if err != nil {
			return nil, fmt.Errorf("failed to load global settings: %w", err)
		}
		if global != nil {
			return global, nil
		}
	}

	if !includeDefaults {
		return nil, ErrSettingsNotFound
	}
	return s.defaults.synthesize(scopeType, scopeID, currency), nil
}

func (s *service) ResolveForAccount(ctx context.Context, accountID uint, currency string) (*models.WalletSettings, error) {
	return s.GetSettings(ctx, models.SettingsScopeAccount, accountID, currency, true)
}

// SaveSettings merges the partial update onto the existing (or synthesized)
// settings for the exact scope and upserts the result. Every save is
// audit-logged.
func (s *service) SaveSettings(ctx context.Context, scopeType string, scopeID uint, currency string, update Update, actorID uint) (*models.WalletSettings, error) {
	if scopeType != models.SettingsScopeGlobal && scopeType != models.SettingsScopeAccount {
		return nil, ErrInvalidScope
	}

	current, err := s.store.GetSettings(ctx, scopeType, scopeID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if current == nil {
		current = s.defaults.synthesize(scopeType, scopeID, currency)
	}

	applyUpdate(current, update)

	if err := s.store.UpsertSettings(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	if err := s.store.AppendAudit(ctx, &models.AuditLog{
		ActorID:    actorID,
		Action:     "settings_saved",
		EntityType: "wallet_settings",
		EntityID:   current.ID,
		Details: models.NewJSON(map[string]interface{}{
			"scope_type": scopeType,
			"scope_id":   scopeID,
			"currency":   currency,
		}),
	}); err != nil {
		s.log.Warnw("settings audit append failed", "scope_type", scopeType, "scope_id", scopeID, "err", err)
	}

	return current, nil
}

func (s *service) UpdateAccountPreferences(ctx context.Context, accountID uint, currency string, prefs PreferencesUpdate, actorID uint) (*models.WalletSettings, error) {
	return s.SaveSettings(ctx, models.SettingsScopeAccount, accountID, currency, Update{Preferences: &prefs}, actorID)
}

func applyUpdate(dst *models.WalletSettings, update Update) {
	if update.DiscountPercent != nil {
		dst.DiscountPercent = *update.DiscountPercent
	}
	if update.CardFeePercent != nil {
		dst.CardFeePercent = *update.CardFeePercent
	}
	if update.WithdrawalAutoApproveHours != nil {
		dst.WithdrawalAutoApproveHours = *update.WithdrawalAutoApproveHours
	}
	if update.WithdrawalProcessingDays != nil {
		dst.WithdrawalProcessingDays = *update.WithdrawalProcessingDays
	}
	if update.AllowMixedPayments != nil {
		dst.AllowMixedPayments = *update.AllowMixedPayments
	}
	if update.AutoUseWalletFirst != nil {
		dst.AutoUseWalletFirst = *update.AutoUseWalletFirst
	}
	if update.RequireKycForWithdrawals != nil {
		dst.RequireKycForWithdrawals = *update.RequireKycForWithdrawals
	}
	if update.EnabledGateways != nil {
		dst.EnabledGateways = append([]string(nil), (*update.EnabledGateways)...)
	}
	if update.Preferences == nil {
		return
	}
	if update.Preferences.RequiredKycDocuments != nil {
		dst.Preferences.RequiredKycDocuments = append([]string(nil), (*update.Preferences.RequiredKycDocuments)...)
	}
	if policy := update.Preferences.DepositPolicy; policy != nil {
		if policy.AllowUnlimitedDeposits != nil {
			dst.Preferences.DepositPolicy.AllowUnlimitedDeposits = policy.AllowUnlimitedDeposits
		}
		if policy.MaxPerTransaction != nil {
			dst.Preferences.DepositPolicy.MaxPerTransaction = policy.MaxPerTransaction
		}
		if policy.MaxPerDay != nil {
			dst.Preferences.DepositPolicy.MaxPerDay = policy.MaxPerDay
		}
		if policy.MaxPerMonth != nil {
			dst.Preferences.DepositPolicy.MaxPerMonth = policy.MaxPerMonth
		}
	}
}
