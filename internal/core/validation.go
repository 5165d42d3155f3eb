package core

// validation.go holds the error types the import pipeline reports to callers
// and the row-level checks applied when line items are materialized.
//
// Validation happens at two levels:
//  1. Mapping validation: the fields a commit cannot do without must be mapped
//  2. Row validation: a row needs a brand and a positive, parseable unit cost

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kamal2602/thinkhub-sub001/internal/money"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/sheet"
)

// ParseError reports a source file that could not be decoded. It aborts an
// import before a session exists.
type ParseError = sheet.ParseError

// PersistenceError is one failed entity, alias or rule write in a batch.
type PersistenceError = normalize.PersistenceError

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrInvalidState is returned when an operation does not apply to the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")
)

// ValidationError is a problem the reviewer can fix: a missing mapping, a bad
// exchange rate, an unknown field. Nothing is written when one is returned.
type ValidationError struct {
	Field   string // Canonical field or input the problem is about
	Value   string // The offending value, if any
	Message string // Human-readable error message
	Hint    string // What to do about it
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ConflictError blocks a commit because serial numbers would be duplicated,
// either against inventory or within the file itself.
type ConflictError struct {
	Serials []string
}

func (e ConflictError) Error() string {
	const shown = 5
	list := e.Serials
	more := ""
	if len(list) > shown {
		more = fmt.Sprintf(" and %d more", len(list)-shown)
		list = list[:shown]
	}
	return fmt.Sprintf("duplicate serial numbers: %s%s", strings.Join(list, ", "), more)
}

func stateError(have State, want ...State) error {
	names := make([]string, len(want))
	for i, w := range want {
		names[i] = string(w)
	}
	return fmt.Errorf("%w: session is %s, expected %s", ErrInvalidState, have, strings.Join(names, " or "))
}

func missingMapping(field string) error {
	return ValidationError{
		Field:   field,
		Message: "missing required mapping",
		Hint:    fmt.Sprintf("map a column to %s before committing", field),
	}
}

// rowIssues returns why a materialized row cannot be committed, or nil.
func rowIssues(brand, cost string) (decimal.Decimal, []string) {
	var reasons []string
	if strings.TrimSpace(brand) == "" {
		reasons = append(reasons, "brand is empty")
	}

	amount, err := money.ParseAmount(cost)
	switch {
	case errors.Is(err, money.ErrEmpty):
		reasons = append(reasons, "unit cost is empty")
	case err != nil:
		reasons = append(reasons, fmt.Sprintf("unit cost %q is not a number", cost))
	case !amount.IsPositive():
		reasons = append(reasons, fmt.Sprintf("unit cost %s is not greater than 0", amount))
	}
	return amount, reasons
}

// maxQuantity caps a single row's quantity.
const maxQuantity = math.MaxInt32

// parseQuantity reads an optional quantity cell. Blank means 1.
func parseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("quantity %q is not a whole number", s)
	}
	if d.LessThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("quantity %s is less than 1", d)
	}
	if d.GreaterThan(decimal.NewFromInt(maxQuantity)) {
		return 0, fmt.Errorf("quantity %q exceeds %d", s, maxQuantity)
	}
	return int(d.IntPart()), nil
}
