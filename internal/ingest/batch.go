// Package ingest turns wide-format source CSVs into canonical long rows.
//
// A RawBatch is validated (ValidateGoods / ValidateIncomes) before anything is
// reshaped; the melters then expose the canonical rows as lazy sequences that
// the upsert writer consumes inside a single transaction.
package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/value-voyage/backend/internal/apperr"
)

// Kind is the declared record kind of a batch.
type Kind string

const (
	KindGoods   Kind = "goods"
	KindIncomes Kind = "incomes"
)

// RawBatch is an untyped wide-format batch as read from one source file.
type RawBatch struct {
	ID      string
	Kind    Kind
	Origin  string // file name or other provenance, for logs
	Header  []string
	Records [][]string

	index map[string]int
}

// NewBatch normalises the header for kind and assigns a batch identifier.
func NewBatch(kind Kind, header []string, records [][]string) (*RawBatch, error) {
	b := &RawBatch{
		ID:      uuid.NewString(),
		Kind:    kind,
		Header:  make([]string, len(header)),
		Records: records,
		index:   make(map[string]int, len(header)),
	}
	for i, h := range header {
		name := normalizeHeader(kind, h)
		if _, dup := b.index[name]; dup && name != "" {
			return nil, apperr.Validation("header", h, "duplicate column").WithBatch(b.ID)
		}
		b.Header[i] = name
		b.index[name] = i
	}
	return b, nil
}

// ReadCSV reads a header line followed by data rows. Ragged rows are
// tolerated; missing trailing cells read as empty. Blank lines are skipped.
// A bare quote inside an unquoted field is kept as a literal character.
func ReadCSV(r io.Reader, kind Kind) (*RawBatch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Schema("year").WithBatch("")
	}
	if err != nil {
		return nil, apperr.Validation("csv", "", err.Error())
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("csv", "", err.Error())
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}
	return NewBatch(kind, header, records)
}

// Has reports whether the normalised column exists.
func (b *RawBatch) Has(col string) bool {
	_, ok := b.index[col]
	return ok
}

// Cell returns the trimmed value of col in rec, or "" if absent.
func (b *RawBatch) Cell(rec []string, col string) string {
	i, ok := b.index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (b *RawBatch) missing(cols ...string) string {
	for _, c := range cols {
		if !b.Has(c) {
			return c
		}
	}
	return ""
}

// normalizeHeader trims and lowercases a column name. Goods headers also fold
// '-' and '_' into single spaces so "Year-Avg" and "year_avg" match "year avg".
func normalizeHeader(kind Kind, h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if kind != KindGoods {
		return h
	}
	h = strings.NewReplacer("-", " ", "_", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
