package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/logger"
	"github.com/value-voyage/backend/internal/services"
)

// yearRange reads the inclusive ?start=&end= pair. end defaults to start.
func yearRange(c *fiber.Ctx) (services.YearRange, error) {
	start, err := queryYear(c, "start")
	if err != nil {
		return services.YearRange{}, err
	}
	end := start
	if c.Query("end") != "" {
		if end, err = queryYear(c, "end"); err != nil {
			return services.YearRange{}, err
		}
	}
	return services.YearRange{Start: start, End: end}, nil
}

func queryYear(c *fiber.Ctx, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, apperr.Query(name, raw, "is required")
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Query(name, raw, "must be an integer year")
	}
	return year, nil
}

// listParam accepts both ?goods=a,b and ?goods=a&goods=b.
func listParam(c *fiber.Ctx, name string) []string {
	var out []string
	for _, v := range c.Context().QueryArgs().PeekMulti(name) {
		for _, part := range strings.Split(string(v), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// respondError maps caller mistakes to 400 and everything else to 500.
func respondError(c *fiber.Ctx, err error, msg string) error {
	switch apperr.KindOf(err) {
	case apperr.KindQuery, apperr.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		logger.Error("%s: %v", msg, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": msg,
		})
	}
}
