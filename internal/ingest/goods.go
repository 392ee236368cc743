package ingest

import (
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/models"
)

// Normalised goods column names.
const (
	ColYear      = "year"
	ColYearAvg   = "year avg"
	ColGoodName  = "good name"
	ColGoodUnit  = "good unit"
	ColSource    = "source"
	ColPriceUnit = "price unit"
)

var monthColumns = [12]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

var requiredGoodsColumns = []string{ColYear, ColYearAvg, ColGoodName, ColGoodUnit, ColSource, ColPriceUnit}

var hundred = decimal.NewFromInt(100)

var errYearRange = errors.New("year outside 1..9999")

// GoodsRecord is one validated wide goods row: a good's prices for one year.
type GoodsRecord struct {
	Row       int // 1-based data row in the source file
	Year      int
	Months    [12]decimal.NullDecimal
	YearAvg   decimal.Decimal
	GoodName  string
	GoodUnit  string
	Source    string
	PriceUnit string // lowercased: cent, cents, dollar or dollars
}

// ValidateGoods checks every goods rule and returns typed records. The first
// violation aborts the whole batch: no records are returned with an error.
func ValidateGoods(b *RawBatch) ([]GoodsRecord, error) {
	if col := b.missing(requiredGoodsColumns...); col != "" {
		return nil, apperr.Schema(col).WithBatch(b.ID)
	}

	out := make([]GoodsRecord, 0, len(b.Records))
	for i, rec := range b.Records {
		gr, err := validateGoodsRow(b, rec, i+1)
		if err != nil {
			return nil, err.WithBatch(b.ID).WithRow(i + 1)
		}
		out = append(out, gr)
	}
	return out, nil
}

func validateGoodsRow(b *RawBatch, rec []string, row int) (GoodsRecord, *apperr.Error) {
	gr := GoodsRecord{Row: row}

	raw := b.Cell(rec, ColYear)
	year, err := parseYear(raw)
	if err != nil {
		return gr, apperr.Validation(ColYear, raw, "must be an integer")
	}
	gr.Year = year

	for m, col := range monthColumns {
		if !b.Has(col) {
			continue
		}
		raw := b.Cell(rec, col)
		d, ok, err := parseNumber(raw)
		if err != nil {
			return gr, apperr.Validation(col, raw, "must be numeric or empty")
		}
		if ok {
			gr.Months[m] = decimal.NewNullDecimal(d)
		}
	}

	raw = b.Cell(rec, ColYearAvg)
	avg, ok, err := parseNumber(raw)
	if err != nil || !ok {
		return gr, apperr.Validation(ColYearAvg, raw, "must be present and numeric")
	}
	gr.YearAvg = avg

	for _, f := range []struct {
		col string
		dst *string
	}{
		{ColGoodName, &gr.GoodName},
		{ColGoodUnit, &gr.GoodUnit},
		{ColSource, &gr.Source},
	} {
		v := b.Cell(rec, f.col)
		if v == "" || isMissing(v) {
			return gr, apperr.Validation(f.col, v, "must not be blank")
		}
		*f.dst = v
	}

	raw = b.Cell(rec, ColPriceUnit)
	unit := strings.ToLower(raw)
	if !knownPriceUnit(unit) {
		return gr, apperr.Validation(ColPriceUnit, raw, "must be one of cent, cents, dollar, dollars")
	}
	gr.PriceUnit = unit
	return gr, nil
}

func knownPriceUnit(u string) bool {
	switch u {
	case "cent", "cents", "dollar", "dollars":
		return true
	}
	return false
}

// MeltGoods reshapes validated records into canonical long rows: one per
// populated month (day 01) and one for the year average (July 2). Prices
// reported in cents are converted to dollars. Missing and non-positive prices
// are dropped. The sequence can be ranged over more than once.
func MeltGoods(records []GoodsRecord) iter.Seq2[models.GoodPriceEntry, error] {
	return func(yield func(models.GoodPriceEntry, error) bool) {
		for _, rec := range records {
			if rec.Year < 1 || rec.Year > 9999 {
				yield(models.GoodPriceEntry{}, apperr.Conversion(ColYear, strconv.Itoa(rec.Year), errYearRange).WithRow(rec.Row))
				return
			}

			name := strings.ToLower(strings.TrimSpace(rec.GoodName))
			unit := strings.TrimSpace(rec.GoodUnit)
			source := strings.TrimSpace(rec.Source)

			emit := func(price decimal.Decimal, date models.Date) (bool, error) {
				price, err := toDollars(price, rec.PriceUnit)
				if err != nil {
					return false, apperr.Conversion(ColPriceUnit, rec.PriceUnit, err).WithRow(rec.Row)
				}
				entry := models.GoodPriceEntry{
					Name:       name,
					Price:      decimal.NewNullDecimal(price),
					Date:       date,
					GoodUnit:   unit,
					DataSource: source,
				}
				if !entry.HasUsablePrice() {
					return true, nil
				}
				return yield(entry, nil), nil
			}

			for m, price := range rec.Months {
				if !price.Valid {
					continue
				}
				more, err := emit(price.Decimal, models.NewDate(rec.Year, time.Month(m+1), 1))
				if err != nil {
					yield(models.GoodPriceEntry{}, err)
					return
				}
				if !more {
					return
				}
			}
			more, err := emit(rec.YearAvg, models.NewDate(rec.Year, time.July, 2))
			if err != nil {
				yield(models.GoodPriceEntry{}, err)
				return
			}
			if !more {
				return
			}
		}
	}
}

func toDollars(price decimal.Decimal, unit string) (decimal.Decimal, error) {
	switch unit {
	case "cent", "cents":
		return price.Div(hundred), nil
	case "dollar", "dollars":
		return price, nil
	}
	return decimal.Zero, errors.New("unknown price unit")
}
