// Package main seeds the global wallet settings rows so a fresh deployment
// starts with sane per-currency defaults.
package main

import (
	"context"
	"strings"

	"tidepay/internal/config"
	"tidepay/internal/logger"
	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/settings"
)

func main() {
	config.LoadEnv()

	sugar, err := logger.New()
	if err != nil {
		panic(err)
	}
	defer func() { _ = sugar.Sync() }()

	db, err := repositories.InitDB()
	if err != nil {
		sugar.Fatalw("database init failed", "err", err)
	}

	store := repositories.NewStore(db)
	settingsService := settings.NewService(store, settings.NewDefaults(), sugar)

	currencies := strings.Split(config.GetEnv("SEED_CURRENCIES", "USD,EUR"), ",")
	ctx := context.Background()
	for _, currency := range currencies {
		currency = strings.TrimSpace(strings.ToUpper(currency))
		if currency == "" {
			continue
		}
		saved, err := settingsService.SaveSettings(ctx, models.SettingsScopeGlobal, 0, currency, settings.Update{}, 0)
		if err != nil {
			sugar.Fatalw("seeding global settings failed", "currency", currency, "err", err)
		}
		sugar.Infow("global settings seeded", "currency", currency, "settings_id", saved.ID)
	}
}
