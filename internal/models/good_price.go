/**
 * @description
 * Goods price database model.
 * Maps to the 'goods_prices' table.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/shopspring/decimal
 */

package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GoodPriceEntry is one observed (or year-averaged) price of a good on a date,
// from one data source. Natural key: (name, date, data_source).
type GoodPriceEntry struct {
	Name       string              `gorm:"column:name;primaryKey" json:"name"`
	Price      decimal.NullDecimal `gorm:"column:price" json:"price"` // dollars; never cents
	Date       Date                `gorm:"column:date;primaryKey" json:"date"`
	GoodUnit   string              `gorm:"column:good_unit" json:"good_unit"`
	DataSource string              `gorm:"column:data_source;primaryKey" json:"data_source"`
}

// TableName overrides the table name used by GoodPriceEntry to `goods_prices`
func (GoodPriceEntry) TableName() string {
	return "goods_prices"
}

// HasUsablePrice reports whether the price may take part in derivations.
func (g GoodPriceEntry) HasUsablePrice() bool {
	return g.Price.Valid && g.Price.Decimal.IsPositive()
}

// QuantityUnit extracts the quantity part of good_unit: "$/dozen" -> "dozen".
// Without a delimiter the whole string is the unit.
func (g GoodPriceEntry) QuantityUnit() string {
	return QuantityUnit(g.GoodUnit)
}

// QuantityUnit is the free-function form of GoodPriceEntry.QuantityUnit.
func QuantityUnit(goodUnit string) string {
	if _, after, ok := strings.Cut(goodUnit, "/"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(goodUnit)
}
