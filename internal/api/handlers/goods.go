/**
 * @description
 * Goods API Handlers.
 * Exposes goods prices and year-average coverage.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/value-voyage/backend/internal/services"
)

type GoodsHandler struct {
	Service *services.QueryService
}

func NewGoodsHandler(service *services.QueryService) *GoodsHandler {
	return &GoodsHandler{Service: service}
}

// GetPrices returns one price per good and year
// GET /api/v1/goods/prices?start=1950&end=1960&goods=eggs,milk&year_avg=true
func (h *GoodsHandler) GetPrices(c *fiber.Ctx) error {
	r, err := yearRange(c)
	if err != nil {
		return respondError(c, err, "Failed to fetch goods prices")
	}
	useYearAverages := c.QueryBool("year_avg", true)

	prices, err := h.Service.FetchGoodsPrices(c.Context(), r, listParam(c, "goods"), useYearAverages)
	if err != nil {
		return respondError(c, err, "Failed to fetch goods prices")
	}
	return c.JSON(prices)
}

// GetCoverage lists which years have a year-average price per good
// GET /api/v1/goods/coverage?start=1950&end=1960&goods=eggs
func (h *GoodsHandler) GetCoverage(c *fiber.Ctx) error {
	r, err := yearRange(c)
	if err != nil {
		return respondError(c, err, "Failed to fetch goods coverage")
	}
	coverage, err := h.Service.GoodsCoverage(c.Context(), r, listParam(c, "goods"))
	if err != nil {
		return respondError(c, err, "Failed to fetch goods coverage")
	}
	return c.JSON(coverage)
}
