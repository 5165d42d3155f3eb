// Package money parses the cost columns of supplier sheets and applies
// exchange rates. Amounts are decimal.Decimal end to end.
package money

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty is returned for a blank amount.
	ErrEmpty = errors.New("empty amount")
	// ErrInvalid is returned for text that is not a number after cleanup.
	ErrInvalid = errors.New("invalid amount")
	// ErrRate is returned for an exchange rate that is not positive.
	ErrRate = errors.New("exchange rate must be greater than 0")
)

// Places is the number of decimal places converted amounts are rounded to.
const Places = 2

// ParseAmount converts a cost cell to a decimal. It accepts currency symbols
// and codes ("$", "€", "USD"), thousands separators, accounting negatives
// "(12.50)", and comma-decimal locales ("1.234,56", "12,50").
//
// Separator rules: when both ',' and '.' appear, the last one is the decimal
// mark. A lone ',' followed by exactly three digits is a thousands separator,
// otherwise it is the decimal mark. Repeated occurrences of the same separator
// are thousands separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmpty
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			negative = !negative
		case unicode.IsLetter(r), unicode.IsSpace(r), unicode.Is(unicode.Sc, r), r == '\'', r == '+':
			// currency markers, grouping spaces and apostrophes
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}

	digits := normalizeSeparators(b.String())
	if digits == "" || digits == "." {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites s so '.' is the only (optional) decimal mark.
func normalizeSeparators(s string) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case commas == 1:
		i := strings.Index(s, ",")
		if len(s)-i-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)

	case commas > 1:
		return strings.ReplaceAll(s, ",", "")

	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseRate parses a user-supplied exchange rate. Blank means 1.
func ParseRate(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NewFromInt(1), nil
	}
	r, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !r.IsPositive() {
		return decimal.Zero, ErrRate
	}
	return r, nil
}

// Convert multiplies amount by rate and rounds to Places.
func Convert(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrRate
	}
	return amount.Mul(rate).Round(Places), nil
}
