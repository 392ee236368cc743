/**
 * @description
 * Income database model and derived affordability rows.
 * IncomeEntry maps to the 'incomes' table; AffordabilityRecord is computed on
 * demand and never persisted.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/shopspring/decimal
 */

package models

import (
	"github.com/shopspring/decimal"
)

// Known income sources.
const (
	SourceIRS  = "IRS"
	SourceBEA  = "BEA"
	SourceFRED = "FRED"
)

// DefaultRegion is used when a caller does not name any region.
const DefaultRegion = "united states"

// IncomeEntry is one region/year/source income observation.
// Natural key: (year, source_name, region).
type IncomeEntry struct {
	Year                    int                 `gorm:"column:year;primaryKey" json:"year"`
	InflationCPI            decimal.NullDecimal `gorm:"column:inflation_cpi" json:"inflation_cpi"`
	TaxUnits                *int64              `gorm:"column:tax_units" json:"tax_units"`
	AverageIncomeUnadjusted decimal.Decimal     `gorm:"column:average_income_unadjusted" json:"average_income_unadjusted"`
	AverageIncomeAdjusted   decimal.NullDecimal `gorm:"column:average_income_adjusted" json:"average_income_adjusted"`
	SourceName              string              `gorm:"column:source_name;primaryKey" json:"source_name"`
	SourceLink              string              `gorm:"column:source_link" json:"source_link"`
	Region                  string              `gorm:"column:region;primaryKey" json:"region"`
}

// TableName overrides the table name used by IncomeEntry to `incomes`
func (IncomeEntry) TableName() string {
	return "incomes"
}

// AffordabilityRecord is how many whole units of a good one region's income
// bought in a year over the requested interval.
type AffordabilityRecord struct {
	GoodName string `json:"good_name"`
	Year     int    `json:"year"`
	Region   string `json:"region"`
	Quantity int64  `json:"quantity"`
	Unit     string `json:"unit"`
}
