// Package routes wires services, handlers and middleware onto the fiber app.
package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tidepay/internal/config"
	"tidepay/internal/gateway"
	"tidepay/internal/handlers"
	"tidepay/internal/middleware"
	"tidepay/internal/models"
	"tidepay/internal/repositories"
	"tidepay/internal/services/deposit"
	"tidepay/internal/services/ledger"
	"tidepay/internal/services/refund"
	"tidepay/internal/services/settings"
	"tidepay/internal/services/verification"
	"tidepay/internal/services/webhook"
	"tidepay/internal/services/withdrawal"
	"tidepay/internal/storage"
)

// SetupRoutes builds the full dependency graph and registers every route.
func SetupRoutes(app *fiber.App, db *gorm.DB, cache *repositories.BalanceCache, log *zap.SugaredLogger) {
	handlers.SetLogger(log)
	store := repositories.NewStore(db)
	gatewayCfgs := config.Gateways()

	// Services
	ledgerService := ledger.NewService(
		storage.LedgerStore{Store: store},
		cache,
		ledger.Config{LegacyMirrorEnabled: config.LegacyMirrorEnabled()},
		log,
	)
	settingsService := settings.NewService(store, settings.NewDefaults(), log)
	verificationService := verification.NewService(store, log)

	registry := gateway.NewRegistry(
		gateway.NewStripeGateway(gatewayCfgs["stripe"]),
		gateway.NewBinancePayGateway(gatewayCfgs["binance_pay"]),
	)

	depositService := deposit.NewService(
		storage.DepositStore{Store: store},
		settingsService,
		registry,
		ledgerService,
		log,
	)
	withdrawalService := withdrawal.NewService(
		storage.WithdrawalStore{Store: store},
		settingsService,
		verificationService,
		ledgerService,
		log,
	)
	refundService := refund.NewService(storage.RefundStore{Store: store}, ledgerService, log)

	webhookService := webhook.NewService(
		store,
		depositService,
		[]webhook.Provider{
			webhook.NewStripeProvider(gatewayCfgs["stripe"]),
			webhook.NewBinancePayProvider(gatewayCfgs["binance_pay"]),
			webhook.NewCryptoProvider(gatewayCfgs["coinpay"]),
		},
		log,
	)

	// Handlers
	walletHandler := handlers.NewWalletHandler(ledgerService)
	depositHandler := handlers.NewDepositHandler(depositService)
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)
	verificationHandler := handlers.NewVerificationHandler(verificationService)
	packageHandler := handlers.NewPackageHandler(refundService)

	api := app.Group("/api")
	app.Get("/health", handlers.HealthCheck)

	// Webhooks authenticate via provider signatures, not bearer tokens.
	api.Post("/webhooks/:provider", webhookHandler.Receive)

	authMiddleware := middleware.NewAuthMiddleware()
	protected := api.Use(authMiddleware.Handler)

	wallet := protected.Group("/wallet")
	wallet.Get("/balance", walletHandler.GetBalance)
	wallet.Get("/summary", walletHandler.GetSummary)
	wallet.Get("/transactions", walletHandler.ListTransactions)
	wallet.Get("/transactions/:id", walletHandler.GetTransaction)

	deposits := protected.Group("/deposits")
	deposits.Post("/", depositHandler.Create)
	deposits.Get("/", depositHandler.List)
	deposits.Get("/:id", depositHandler.Get)

	withdrawals := protected.Group("/withdrawals")
	withdrawals.Post("/", withdrawalHandler.Request)
	withdrawals.Get("/", withdrawalHandler.List)
	withdrawals.Get("/:id", withdrawalHandler.Get)

	verificationGroup := protected.Group("/verification")
	verificationGroup.Get("/payment-methods", verificationHandler.ListPaymentMethods)
	verificationGroup.Post("/kyc-documents", verificationHandler.SubmitKycDocument)
	verificationGroup.Get("/kyc-documents", verificationHandler.ListKycDocuments)
	verificationGroup.Post("/bank-accounts", verificationHandler.CreateBankAccount)
	verificationGroup.Get("/bank-accounts", verificationHandler.ListBankAccounts)
	verificationGroup.Delete("/bank-accounts/:id", verificationHandler.DeactivateBankAccount)

	settingsGroup := protected.Group("/settings")
	settingsGroup.Get("/", settingsHandler.GetEffective)
	settingsGroup.Put("/preferences", settingsHandler.UpdatePreferences)

	// Admin surface. Routes check granular permissions; admin claims pass
	// every check, operator accounts need the explicit grant. KYC reviews
	// and package deletion stay admin-only.
	admin := protected.Group("/admin")
	admin.Post("/transactions", middleware.HasPermission(models.PermissionTransactionWrite), walletHandler.RecordTransaction)
	admin.Post("/transactions/:id/cancel", middleware.HasPermission(models.PermissionTransactionWrite), walletHandler.CancelTransaction)
	admin.Post("/funds/lock", middleware.HasPermission(models.PermissionTransactionWrite), walletHandler.LockFunds)
	admin.Post("/funds/release", middleware.HasPermission(models.PermissionTransactionWrite), walletHandler.ReleaseFunds)
	admin.Post("/funds/capture", middleware.HasPermission(models.PermissionTransactionWrite), walletHandler.CaptureFunds)
	admin.Post("/deposits/:id/approve", middleware.HasPermission(models.PermissionWalletWrite), depositHandler.Approve)
	admin.Post("/deposits/:id/reject", middleware.HasPermission(models.PermissionWalletWrite), depositHandler.Reject)
	admin.Post("/withdrawals/:id/approve", middleware.HasPermission(models.PermissionWalletWrite), withdrawalHandler.Approve)
	admin.Post("/withdrawals/:id/finalize", middleware.HasPermission(models.PermissionWalletWrite), withdrawalHandler.Finalize)
	admin.Get("/settings", middleware.HasPermission(models.PermissionReadAdmin), settingsHandler.GetScoped)
	admin.Put("/settings", middleware.HasPermission(models.PermissionSettingsWrite), settingsHandler.Save)
	admin.Post("/payment-methods/:id/review", middleware.AdminOnly, verificationHandler.ReviewPaymentMethod)
	admin.Post("/kyc-documents/:id/review", middleware.AdminOnly, verificationHandler.ReviewKycDocument)
	admin.Delete("/packages/:id", middleware.AdminOnly, packageHandler.ForceDelete)

	protected.Get("/debug/claims", func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*models.UserClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "no claims found"})
		}
		return c.JSON(fiber.Map{
			"user_id":     claims.UserID,
			"email":       claims.Email,
			"role":        claims.Role,
			"permissions": claims.Permissions,
		})
	})
}
