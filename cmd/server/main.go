// Package main is the settlement engine's entry point. It connects the
// databases, wires the dependency graph and serves the HTTP API.
package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"tidepay/internal/config"
	"tidepay/internal/logger"
	"tidepay/internal/repositories"
	"tidepay/internal/routes"
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
	sugar.Infow("database connected and migrated")

	redisClient := repositories.NewRedisClient()
	cache := repositories.NewBalanceCache(
		redisClient,
		config.GetDurationEnv("BALANCE_CACHE_TTL", 5*time.Minute),
		sugar,
	)

	app := fiber.New(fiber.Config{
		AppName: "tidepay",
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: config.GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Stripe-Signature, BinancePay-Timestamp, BinancePay-Nonce, BinancePay-Signature, X-Coinpay-Signature",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Gateways retry aggressively on failures; the limiter protects the
	// webhook endpoint from runaway redelivery storms.
	app.Use("/api/webhooks", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests",
			})
		},
	}))

	routes.SetupRoutes(app, db, cache, sugar)

	addr := ":" + config.GetEnv("PORT", "3000")
	sugar.Infow("server starting", "addr", addr)
	if err := app.Listen(addr); err != nil {
		sugar.Fatalw("server stopped", "err", err)
	}
}
