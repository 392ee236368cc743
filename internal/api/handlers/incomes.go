package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/value-voyage/backend/internal/services"
)

type IncomeHandler struct {
	Service *services.QueryService
}

func NewIncomeHandler(service *services.QueryService) *IncomeHandler {
	return &IncomeHandler{Service: service}
}

// GetIncomes returns incomes for one source
// GET /api/v1/incomes?start=1950&end=1960&source=BEA&regions=mideast
func (h *IncomeHandler) GetIncomes(c *fiber.Ctx) error {
	r, err := yearRange(c)
	if err != nil {
		return respondError(c, err, "Failed to fetch incomes")
	}
	incomes, err := h.Service.FetchIncomes(c.Context(), r, c.Query("source"), listParam(c, "regions"))
	if err != nil {
		return respondError(c, err, "Failed to fetch incomes")
	}
	return c.JSON(incomes)
}

// GetAffordability returns how many units of each good an income bought
// GET /api/v1/affordability?start=1950&end=1960&goods=eggs&source=FRED&interval=monthly
func (h *IncomeHandler) GetAffordability(c *fiber.Ctx) error {
	r, err := yearRange(c)
	if err != nil {
		return respondError(c, err, "Failed to derive affordability")
	}
	records, err := h.Service.FetchFinalGoodsAffordable(c.Context(), services.AffordabilityParams{
		Range:        r,
		Goods:        listParam(c, "goods"),
		Regions:      listParam(c, "regions"),
		IncomeSource: c.Query("source"),
		Interval:     c.Query("interval", string(services.IntervalAnnually)),
	})
	if err != nil {
		return respondError(c, err, "Failed to derive affordability")
	}
	return c.JSON(records)
}
