// Package apperr defines the pipeline's error taxonomy.
//
// Every failure surfaced by ingestion, storage or querying is an *Error with a
// Kind. Callers branch with errors.Is against the Err* sentinels and pull the
// offending field, value and batch out with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindSchema Kind = iota + 1
	KindValidation
	KindConversion
	KindStorage
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindValidation:
		return "validation"
	case KindConversion:
		return "conversion"
	case KindStorage:
		return "storage"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

var (
	ErrSchema     = errors.New("schema error")
	ErrValidation = errors.New("validation error")
	ErrConversion = errors.New("conversion error")
	ErrStorage    = errors.New("storage error")
	ErrQuery      = errors.New("query error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindSchema:
		return ErrSchema
	case KindValidation:
		return ErrValidation
	case KindConversion:
		return ErrConversion
	case KindStorage:
		return ErrStorage
	case KindQuery:
		return ErrQuery
	default:
		return nil
	}
}

// Error is a structured pipeline failure.
type Error struct {
	Kind    Kind
	Field   string // column, parameter or operation name
	Value   string // offending value, if any
	Rule    string // the rule that was violated
	Row     int    // 1-based data row within the batch, 0 when not row-specific
	BatchID string
	Lock    bool // storage failure caused by lock contention
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.BatchID != "" {
		fmt.Fprintf(&b, " [batch %s]", e.BatchID)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " value %q", e.Value)
	}
	if e.Rule != "" {
		b.WriteString(": ")
		b.WriteString(e.Rule)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithBatch attaches the batch identifier and returns e.
func (e *Error) WithBatch(id string) *Error {
	e.BatchID = id
	return e
}

// WithRow attaches the 1-based data row and returns e.
func (e *Error) WithRow(row int) *Error {
	e.Row = row
	return e
}

func Schema(field string) *Error {
	return &Error{Kind: KindSchema, Field: field, Rule: "required column is missing"}
}

func Validation(field, value, rule string) *Error {
	return &Error{Kind: KindValidation, Field: field, Value: value, Rule: rule}
}

func Conversion(field, value string, cause error) *Error {
	return &Error{Kind: KindConversion, Field: field, Value: value, Err: cause}
}

func Storage(op string, cause error) *Error {
	return &Error{Kind: KindStorage, Field: op, Err: cause}
}

func Query(param, value, rule string) *Error {
	return &Error{Kind: KindQuery, Field: param, Value: value, Rule: rule}
}

// KindOf reports the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
