/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/services
 */

package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/value-voyage/backend/internal/api/handlers"
	"github.com/value-voyage/backend/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, query *services.QueryService) {
	goodsHandler := handlers.NewGoodsHandler(query)
	incomeHandler := handlers.NewIncomeHandler(query)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	goods := v1.Group("/goods")
	goods.Get("/prices", goodsHandler.GetPrices)
	goods.Get("/coverage", goodsHandler.GetCoverage)

	v1.Get("/incomes", incomeHandler.GetIncomes)
	v1.Get("/affordability", incomeHandler.GetAffordability)
}
