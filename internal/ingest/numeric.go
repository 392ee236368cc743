package ingest

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var errNotInteger = errors.New("not an integer")

// parseNumber reads a numeric cell. Empty and NaN-like cells are absent
// (ok=false, err=nil); anything else that does not parse is an error.
func parseNumber(s string) (d decimal.Decimal, ok bool, err error) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return decimal.Zero, false, nil
	}
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// coerceNumber is the lenient form: unparseable cells are simply absent.
func coerceNumber(s string) decimal.NullDecimal {
	d, ok, err := parseNumber(s)
	if err != nil || !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// parseYear accepts integral numerals such as "1950" or "1950.0".
func parseYear(s string) (int, error) {
	d, ok, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if !ok || !d.IsInteger() {
		return 0, errNotInteger
	}
	return int(d.IntPart()), nil
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "(na)", "null":
		return true
	}
	return false
}
