/**
 * @description
 * Query/Derivation engine over goods_prices and incomes.
 * Stateless: every call opens its own store connection. Results may be served
 * from the Redis query cache, which the upsert writer invalidates on commit.
 *
 * @dependencies
 * - backend/internal/db
 * - backend/internal/models
 * - gorm.io/gorm
 * - github.com/shopspring/decimal
 */

package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/db"
	"github.com/value-voyage/backend/internal/models"
	"gorm.io/gorm"
)

const (
	MinYear = 1
	MaxYear = 9999

	yearAverageSuffix = "07-02"
)

var (
	twelve      = decimal.NewFromInt(12)
	maxQuantity = decimal.NewFromInt(math.MaxInt64)
	minQuantity = decimal.NewFromInt(math.MinInt64)

	errQuantityRange = errors.New("quantity does not fit in int64")
)

// YearRange is an inclusive range of calendar years.
type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r YearRange) validate() error {
	if r.Start < MinYear || r.End > MaxYear {
		return apperr.Query("year_range", fmt.Sprintf("%d-%d", r.Start, r.End), "years must be within 1..9999")
	}
	if r.Start > r.End {
		return apperr.Query("year_range", fmt.Sprintf("%d-%d", r.Start, r.End), "start must not be after end")
	}
	return nil
}

func (r YearRange) firstDate() string { return fmt.Sprintf("%04d-01-01", r.Start) }
func (r YearRange) lastDate() string  { return fmt.Sprintf("%04d-12-31", r.End) }

// Interval is the period an income is spread over before dividing by price.
type Interval string

const (
	IntervalAnnually Interval = "annually"
	IntervalMonthly  Interval = "monthly"
)

// ParseInterval accepts "annually" (or "annual") and "monthly".
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "annually", "annual":
		return IntervalAnnually, nil
	case "monthly":
		return IntervalMonthly, nil
	}
	return "", apperr.Query("interval", s, "must be annually or monthly")
}

// AffordabilityParams selects the goods/income combinations to derive.
type AffordabilityParams struct {
	Range        YearRange `json:"range"`
	Goods        []string  `json:"goods"`
	Regions      []string  `json:"regions"`
	IncomeSource string    `json:"income_source"`
	Interval     string    `json:"interval"`
}

// GoodsCoverage lists, for one good, which years in a range have a
// year-average price and which do not.
type GoodsCoverage struct {
	Name    string `json:"name"`
	Present []int  `json:"present"`
	Missing []int  `json:"missing"`
}

type QueryService struct {
	Store *db.Store
	Cache *QueryCache
}

func NewQueryService(store *db.Store, cache *QueryCache) *QueryService {
	return &QueryService{Store: store, Cache: cache}
}

// FetchGoodsPrices returns prices in r, optionally restricted to goods. With
// useYearAverages only the July 2nd year-average rows are considered,
// otherwise only the other rows. One row per (name, year) is kept: the latest
// date, ties broken by data source.
func (s *QueryService) FetchGoodsPrices(ctx context.Context, r YearRange, goods []string, useYearAverages bool) ([]models.GoodPriceEntry, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	goods = normalizeNames(goods)
	params := struct {
		Range        YearRange
		Goods        []string
		YearAverages bool
	}{r, goods, useYearAverages}

	return cached(ctx, s.Cache, "goods_prices", params, func() ([]models.GoodPriceEntry, error) {
		var rows []models.GoodPriceEntry
		err := s.Store.WithConn(ctx, func(tx *gorm.DB) error {
			q := tx.Model(&models.GoodPriceEntry{}).
				Where("date >= ? AND date <= ?", r.firstDate(), r.lastDate())
			if len(goods) > 0 {
				q = q.Where("name IN ?", goods)
			}
			if useYearAverages {
				q = q.Where("substr(date, 6, 5) = ?", yearAverageSuffix)
			} else {
				q = q.Where("substr(date, 6, 5) <> ?", yearAverageSuffix)
			}
			return q.Order("name").Order("date").Order("data_source").Find(&rows).Error
		})
		if err != nil {
			return nil, db.Classify("fetch goods prices", err)
		}
		return latestPerYear(rows), nil
	})
}

// latestPerYear keeps one entry per (name, year): the greatest date, and among
// equal dates the smallest data source. Output is ordered by name then year.
func latestPerYear(rows []models.GoodPriceEntry) []models.GoodPriceEntry {
	type key struct {
		name string
		year int
	}
	best := make(map[key]int, len(rows))
	for i, row := range rows {
		k := key{row.Name, row.Date.Year()}
		j, seen := best[k]
		if !seen {
			best[k] = i
			continue
		}
		cur := rows[j]
		if row.Date.After(cur.Date.Time) || (row.Date.Equal(cur.Date.Time) && row.DataSource < cur.DataSource) {
			best[k] = i
		}
	}

	out := make([]models.GoodPriceEntry, 0, len(best))
	for _, i := range best {
		out = append(out, rows[i])
	}
	slices.SortFunc(out, func(a, b models.GoodPriceEntry) int {
		return cmp.Or(
			strings.Compare(a.Name, b.Name),
			cmp.Compare(a.Date.Year(), b.Date.Year()),
		)
	})
	return out
}

// FetchIncomes returns incomes from sourceName in r for the given regions,
// defaulting to the United States.
func (s *QueryService) FetchIncomes(ctx context.Context, r YearRange, sourceName string, regions []string) ([]models.IncomeEntry, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	sourceName = strings.TrimSpace(sourceName)
	if sourceName == "" {
		return nil, apperr.Query("source_name", sourceName, "must not be empty")
	}
	regions = normalizeNames(regions)
	if len(regions) == 0 {
		regions = []string{models.DefaultRegion}
	}
	params := struct {
		Range   YearRange
		Source  string
		Regions []string
	}{r, sourceName, regions}

	return cached(ctx, s.Cache, "incomes", params, func() ([]models.IncomeEntry, error) {
		var rows []models.IncomeEntry
		err := s.Store.WithConn(ctx, func(tx *gorm.DB) error {
			return tx.Where("year >= ? AND year <= ?", r.Start, r.End).
				Where("source_name = ?", sourceName).
				Where("region IN ?", regions).
				Order("year").Order("region").
				Find(&rows).Error
		})
		if err != nil {
			return nil, db.Classify("fetch incomes", err)
		}
		return rows, nil
	})
}

// FetchFinalGoodsAffordable joins year-average prices with incomes on year and
// returns how many whole units of each good the income bought. Combinations
// without a positive price or without an income produce no record. When
// several sources report a year average for the same good and year, the price
// from the alphabetically first data_source is used. A quantity too large for
// int64 fails the call with a conversion error.
func (s *QueryService) FetchFinalGoodsAffordable(ctx context.Context, p AffordabilityParams) ([]models.AffordabilityRecord, error) {
	interval, err := ParseInterval(p.Interval)
	if err != nil {
		return nil, err
	}
	if err := p.Range.validate(); err != nil {
		return nil, err
	}
	goods := normalizeNames(p.Goods)
	if len(goods) == 0 {
		return nil, apperr.Query("goods", "", "at least one good is required")
	}

	prices, err := s.FetchGoodsPrices(ctx, p.Range, goods, true)
	if err != nil {
		return nil, err
	}
	incomes, err := s.FetchIncomes(ctx, p.Range, p.IncomeSource, p.Regions)
	if err != nil {
		return nil, err
	}

	byYear := make(map[int][]models.IncomeEntry)
	for _, inc := range incomes {
		byYear[inc.Year] = append(byYear[inc.Year], inc)
	}

	var out []models.AffordabilityRecord
	for _, price := range prices {
		if !price.HasUsablePrice() {
			continue
		}
		divisor := price.Price.Decimal
		if interval == IntervalMonthly {
			divisor = divisor.Mul(twelve)
		}
		for _, inc := range byYear[price.Date.Year()] {
			q, _ := inc.AverageIncomeUnadjusted.QuoRem(divisor, 0)
			if q.GreaterThan(maxQuantity) || q.LessThan(minQuantity) {
				return nil, apperr.Conversion("quantity", q.String(), errQuantityRange)
			}
			out = append(out, models.AffordabilityRecord{
				GoodName: price.Name,
				Year:     inc.Year,
				Region:   inc.Region,
				Quantity: q.IntPart(),
				Unit:     price.QuantityUnit(),
			})
		}
	}
	return out, nil
}

// GoodsCoverage reports, per good, the years in r with and without a
// year-average price. With no goods given every good in the store is listed.
func (s *QueryService) GoodsCoverage(ctx context.Context, r YearRange, goods []string) ([]GoodsCoverage, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	goods = normalizeNames(goods)

	type row struct {
		Name string
		Date string
	}
	var rows []row
	err := s.Store.WithConn(ctx, func(tx *gorm.DB) error {
		if len(goods) == 0 {
			if err := tx.Model(&models.GoodPriceEntry{}).Distinct().Order("name").Pluck("name", &goods).Error; err != nil {
				return err
			}
			if len(goods) == 0 {
				return nil
			}
		}
		return tx.Model(&models.GoodPriceEntry{}).
			Select("name", "date").
			Where("date >= ? AND date <= ?", r.firstDate(), r.lastDate()).
			Where("substr(date, 6, 5) = ?", yearAverageSuffix).
			Where("name IN ?", goods).
			Where("price > 0").
			Find(&rows).Error
	})
	if err != nil {
		return nil, db.Classify("goods coverage", err)
	}

	have := make(map[string]map[int]bool, len(goods))
	for _, rw := range rows {
		if len(rw.Date) < 4 {
			continue
		}
		year, err := strconv.Atoi(rw.Date[:4])
		if err != nil {
			continue
		}
		if have[rw.Name] == nil {
			have[rw.Name] = make(map[int]bool)
		}
		have[rw.Name][year] = true
	}

	out := make([]GoodsCoverage, 0, len(goods))
	for _, name := range goods {
		c := GoodsCoverage{Name: name, Present: []int{}, Missing: []int{}}
		for y := r.Start; y <= r.End; y++ {
			if have[name][y] {
				c.Present = append(c.Present, y)
			} else {
				c.Missing = append(c.Missing, y)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// normalizeNames lowercases, trims, drops blanks and de-duplicates.
func normalizeNames(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
