package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tidepay/internal/models"
	"tidepay/internal/services/settings"
	"tidepay/internal/utils"
)

// SettingsHandler exposes scoped wallet settings.
type SettingsHandler struct {
	settings settings.Service
}

func NewSettingsHandler(settingsService settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: settingsService}
}

// GetEffective resolves the caller's effective settings, falling back from
// the account scope to global to defaults.
func (h *SettingsHandler) GetEffective(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	resolved, err := h.settings.ResolveForAccount(c.Context(), claims.UserID, queryCurrency(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"settings": resolved})
}

// GetScoped loads the settings for an explicit scope without default
// synthesis unless include_defaults is set.
func (h *SettingsHandler) GetScoped(c *fiber.Ctx) error {
	scopeType := c.Query("scope_type", models.SettingsScopeGlobal)
	scopeID := uint(c.QueryInt("scope_id", 0))
	includeDefaults := c.QueryBool("include_defaults", false)

	resolved, err := h.settings.GetSettings(c.Context(), scopeType, scopeID, queryCurrency(c), includeDefaults)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"settings": resolved})
}

type saveSettingsInput struct {
	ScopeType string          `json:"scope_type" validate:"required"`
	ScopeID   uint            `json:"scope_id"`
	Currency  string          `json:"currency" validate:"required,len=3"`
	Update    settings.Update `json:"update"`
}

// Save upserts settings for a scope with a partial update.
func (h *SettingsHandler) Save(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input saveSettingsInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	saved, err := h.settings.SaveSettings(c.Context(), input.ScopeType, input.ScopeID, input.Currency, input.Update, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"settings": saved})
}

// UpdatePreferences lets an account adjust its own preferences document.
func (h *SettingsHandler) UpdatePreferences(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Currency    string                     `json:"currency" validate:"required,len=3"`
		Preferences settings.PreferencesUpdate `json:"preferences"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	saved, err := h.settings.UpdateAccountPreferences(c.Context(), claims.UserID, input.Currency, input.Preferences, claims.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.Map{"settings": saved})
}
