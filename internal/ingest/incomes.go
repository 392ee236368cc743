package ingest

import (
	"fmt"
	"iter"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/value-voyage/backend/internal/apperr"
	"github.com/value-voyage/backend/internal/models"
)

// IncomeFormat names the shape of an incomes source file.
type IncomeFormat string

const (
	// FormatWide has a year column and one column per region (BEA tables).
	FormatWide IncomeFormat = "wide"
	// FormatLong has year, average_income_unadjusted and an optional region (FRED).
	FormatLong IncomeFormat = "long"
	// FormatIRS has year, inflation_cpi, tax_units (thousands) and
	// average_income_adjusted.
	FormatIRS IncomeFormat = "irs"
)

// Incomes column names.
const (
	ColRegion     = "region"
	ColUnadjusted = "average_income_unadjusted"
	ColAdjusted   = "average_income_adjusted"
	ColCPI        = "inflation_cpi"
	ColTaxUnits   = "tax_units"
)

var thousand = decimal.NewFromInt(1000)

// ParseIncomeFormat maps a user supplied name onto a format.
func ParseIncomeFormat(s string) (IncomeFormat, error) {
	switch f := IncomeFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWide, FormatLong, FormatIRS:
		return f, nil
	}
	return "", apperr.Validation("format", s, "must be one of wide, long, irs")
}

// SourceTag is the fixed provenance attached to every row of one ingestion run.
type SourceTag struct {
	Name string
	Link string
}

var (
	TagIRS  = SourceTag{Name: models.SourceIRS, Link: "https://eml.berkeley.edu/~saez/pikettyqje.pdf"}
	TagFRED = SourceTag{Name: models.SourceFRED, Link: "https://fred.stlouisfed.org/series/A792RC0A052NBEA"}
	TagBEA  = SourceTag{Name: models.SourceBEA, Link: "https://apps.bea.gov/iTable/?reqid=70&step=30&isuri=1&major_area=0&area=xx&year=-1&tableid=21&category=421&area_type=0&year_end=-1&classification=non-industry&state=0&statistic=3&yearbegin=-1&unit_of_measure=levels"}
)

// DefaultTag returns the preset tag for a known source name.
func DefaultTag(name string) (SourceTag, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case models.SourceIRS:
		return TagIRS, true
	case models.SourceFRED:
		return TagFRED, true
	case models.SourceBEA:
		return TagBEA, true
	}
	return SourceTag{}, false
}

// IncomeCell is one coerced numeric cell; Value is null when the cell was
// empty or did not parse.
type IncomeCell struct {
	Column string
	Value  decimal.NullDecimal
}

// IncomeRecord is one validated incomes row with its numeric columns coerced.
type IncomeRecord struct {
	Row    int
	Year   int
	Format IncomeFormat
	Region string // long format only, already normalised
	Cells  []IncomeCell
}

// Value returns the named cell, or null if the row has no such column.
func (r IncomeRecord) Value(col string) decimal.NullDecimal {
	for _, c := range r.Cells {
		if c.Column == col {
			return c.Value
		}
	}
	return decimal.NullDecimal{}
}

// Dropped describes input that lenient incomes validation discarded.
type Dropped struct {
	Row    int
	Field  string
	Value  string
	Reason string
}

func (d Dropped) String() string {
	return fmt.Sprintf("row %d %q value %q: %s", d.Row, d.Field, d.Value, d.Reason)
}

// ValidateIncomes coerces an incomes batch. Missing required columns fail the
// batch with a schema error; rows with a bad year are dropped, and numeric
// cells that do not parse become missing. Both are reported in the dropped list.
func ValidateIncomes(b *RawBatch, format IncomeFormat) ([]IncomeRecord, []Dropped, error) {
	required := []string{ColYear}
	switch format {
	case FormatWide:
	case FormatLong:
		required = append(required, ColUnadjusted)
	case FormatIRS:
		required = append(required, ColCPI, ColTaxUnits, ColAdjusted)
	default:
		return nil, nil, apperr.Validation("format", string(format), "must be one of wide, long, irs").WithBatch(b.ID)
	}
	if col := b.missing(required...); col != "" {
		return nil, nil, apperr.Schema(col).WithBatch(b.ID)
	}

	var columns []string
	for _, h := range b.Header {
		if h == "" || h == ColYear || (format == FormatLong && h == ColRegion) {
			continue
		}
		columns = append(columns, h)
	}

	var (
		out     = make([]IncomeRecord, 0, len(b.Records))
		dropped []Dropped
	)
	for i, rec := range b.Records {
		row := i + 1
		raw := b.Cell(rec, ColYear)
		year, err := parseYear(raw)
		if err != nil {
			dropped = append(dropped, Dropped{Row: row, Field: ColYear, Value: raw, Reason: "year is not an integer"})
			continue
		}

		ir := IncomeRecord{Row: row, Year: year, Format: format, Cells: make([]IncomeCell, 0, len(columns))}
		if format == FormatLong {
			ir.Region = normalizeRegion(b.Cell(rec, ColRegion))
			if ir.Region == "" {
				ir.Region = models.DefaultRegion
			}
		}
		for _, col := range columns {
			raw := b.Cell(rec, col)
			d, ok, err := parseNumber(raw)
			if err != nil {
				dropped = append(dropped, Dropped{Row: row, Field: col, Value: raw, Reason: "not numeric"})
			}
			cell := IncomeCell{Column: col}
			if ok {
				cell.Value = decimal.NewNullDecimal(d)
			}
			ir.Cells = append(ir.Cells, cell)
		}
		out = append(out, ir)
	}
	return out, dropped, nil
}

// MeltIncomes reshapes validated incomes rows into canonical entries tagged
// with tag. Rows without a usable unadjusted income are skipped. The sequence
// can be ranged over more than once.
func MeltIncomes(records []IncomeRecord, tag SourceTag) iter.Seq2[models.IncomeEntry, error] {
	return func(yield func(models.IncomeEntry, error) bool) {
		for _, rec := range records {
			if rec.Year < 1 || rec.Year > 9999 {
				yield(models.IncomeEntry{}, apperr.Conversion(ColYear, fmt.Sprint(rec.Year), errYearRange).WithRow(rec.Row))
				return
			}
			base := models.IncomeEntry{
				Year:       rec.Year,
				SourceName: tag.Name,
				SourceLink: tag.Link,
			}

			switch rec.Format {
			case FormatWide:
				for _, c := range rec.Cells {
					region := normalizeRegion(c.Column)
					if !c.Value.Valid || region == "" {
						continue
					}
					e := base
					e.Region = region
					e.AverageIncomeUnadjusted = c.Value.Decimal
					if !yield(e, nil) {
						return
					}
				}

			case FormatLong:
				v := rec.Value(ColUnadjusted)
				if !v.Valid {
					continue
				}
				e := base
				e.Region = rec.Region
				e.AverageIncomeUnadjusted = v.Decimal
				if !yield(e, nil) {
					return
				}

			case FormatIRS:
				e, ok := irsEntry(base, rec)
				if !ok {
					continue
				}
				if !yield(e, nil) {
					return
				}

			default:
				yield(models.IncomeEntry{}, apperr.Conversion("format", string(rec.Format), fmt.Errorf("unknown incomes format")).WithRow(rec.Row))
				return
			}
		}
	}
}

// irsEntry derives the unadjusted income from the CPI-adjusted figure and
// scales tax units out of thousands.
func irsEntry(base models.IncomeEntry, rec IncomeRecord) (models.IncomeEntry, bool) {
	cpi := rec.Value(ColCPI)
	units := rec.Value(ColTaxUnits)
	adjusted := rec.Value(ColAdjusted)
	if !cpi.Valid || !units.Valid || !adjusted.Valid || cpi.Decimal.IsZero() {
		return base, false
	}

	e := base
	e.Region = models.DefaultRegion
	e.InflationCPI = cpi
	e.AverageIncomeAdjusted = adjusted
	e.AverageIncomeUnadjusted = adjusted.Decimal.DivRound(cpi.Decimal, 10)
	n := units.Decimal.Mul(thousand).Round(0).IntPart()
	e.TaxUnits = &n
	return e, true
}

// normalizeRegion lowercases a region and strips a trailing footnote marker,
// so "New England*" becomes "new england".
func normalizeRegion(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, "*")
	return strings.TrimSpace(s)
}
