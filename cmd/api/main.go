/**
 * @description
 * Main entry point for the Value Voyage query API.
 * Initializes the Fiber web server, loads configuration, and sets up routes.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - github.com/value-voyage/backend/internal/config: Config loader
 * - github.com/value-voyage/backend/internal/db: Store and Redis
 *
 * @notes
 * - The Store opens a connection per request; nothing is pooled here.
 * - Redis is optional and only backs the query cache.
 */

package main

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/value-voyage/backend/internal/api"
	"github.com/value-voyage/backend/internal/config"
	"github.com/value-voyage/backend/internal/db"
	"github.com/value-voyage/backend/internal/logger"
	"github.com/value-voyage/backend/internal/services"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Server.Env)

	ctx := context.Background()

	// 2. Store and cache
	store := db.NewStore(cfg.DB)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("Failed to prepare database: %v", err)
	}

	redisClient, err := db.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	query := services.NewQueryService(store, services.NewQueryCache(redisClient))

	// 3. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "Value Voyage API",
		StrictRouting: true,
		CaseSensitive: true,
	})

	// 4. Global Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, OPTIONS",
	}))

	// 5. Routes
	api.SetupRoutes(app, query)

	// 6. Start Server
	logger.Info("🚀 Starting Value Voyage API on port %s (%s store)", cfg.Server.Port, store.Driver())
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
