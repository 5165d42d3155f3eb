// Package specparse turns compound hardware spec strings from supplier
// spreadsheets ("2x8GB", "16GB (2x8GB)", "1TB Hynix/2TB Samsung") into
// structured component lists.
//
// Everything here is pure and stateless. Parse never fails: text that matches
// none of the known shapes comes back verbatim as a single component, so a row
// is never dropped because its spec column is free-form.
package specparse

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxMultiplier bounds the N in "N x SIZE" style patterns. Larger counts are
// almost always a misread (a part number, a price) and fall through to the
// next pattern instead of producing hundreds of entries.
var MaxMultiplier = 64

// ComponentSpec is one physical part described by a spec string.
type ComponentSpec struct {
	Capacity     string `json:"capacity"`
	Quantity     int    `json:"quantity"`
	OriginalText string `json:"originalText,omitempty"`
}

// Patterns are tried in this order; the first match wins.
var (
	// 1. "2x8GB", "2 x 8 GB", "4*16GB DDR4"
	prefixMultiplierRe = regexp.MustCompile(`(?i)^\s*(\d+)\s*[x×*]\s*(\d+(?:\.\d+)?)\s*(GB|TB|MB)`)

	// 2. "8GB*2", "8GB x 2", "8 x 2" (unit defaults to GB)
	suffixMultiplierRe = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(GB|TB|MB)?\s*[x×*]\s*(\d+)\b`)

	// 3. "16GB (2x8GB)" - the inner breakdown wins over the outer total
	parentheticalRe = regexp.MustCompile(`(?i)\(\s*(\d+)\s*[x×*]\s*(\d+(?:\.\d+)?)\s*(GB|TB|MB)\s*\)`)

	// 4. "1TB Hynix/2TB Samsung", "256GB + 1TB", "8GB & 8GB"
	pairRe = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(GB|TB|MB)\b[^/+&,]*[/+&,]\s*(\d+(?:\.\d+)?)\s*(GB|TB|MB)\b[^/+&,]*$`)

	// 5. "8GB", "512 gb", "2666MHz"
	simpleRe = regexp.MustCompile(`(?i)^\s*\d+(?:\.\d+)?\s*(?:GB|TB|MHz)\s*$`)
)

// Parse splits a spec string into components. The result always has at least
// one entry and every entry has Quantity 1; multipliers are expanded into
// repeated entries rather than a single entry with a higher quantity.
func Parse(text string) []ComponentSpec {
	if m := prefixMultiplierRe.FindStringSubmatch(text); m != nil {
		if n, ok := multiplier(m[1]); ok {
			return repeat(n, m[2]+strings.ToUpper(m[3]), text)
		}
	}

	if m := suffixMultiplierRe.FindStringSubmatch(text); m != nil {
		if n, ok := multiplier(m[3]); ok {
			unit := strings.ToUpper(m[2])
			if unit == "" {
				unit = "GB"
			}
			return repeat(n, m[1]+unit, text)
		}
	}

	if m := parentheticalRe.FindStringSubmatch(text); m != nil {
		if n, ok := multiplier(m[1]); ok {
			return repeat(n, m[2]+strings.ToUpper(m[3]), text)
		}
	}

	if m := pairRe.FindStringSubmatch(text); m != nil {
		return []ComponentSpec{
			{Capacity: m[1] + strings.ToUpper(m[2]), Quantity: 1, OriginalText: text},
			{Capacity: m[3] + strings.ToUpper(m[4]), Quantity: 1, OriginalText: text},
		}
	}

	if simpleRe.MatchString(text) {
		return []ComponentSpec{{
			Capacity:     strings.ToUpper(strings.TrimSpace(text)),
			Quantity:     1,
			OriginalText: text,
		}}
	}

	return []ComponentSpec{{Capacity: text, Quantity: 1, OriginalText: text}}
}

func multiplier(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxMultiplier {
		return 0, false
	}
	return n, true
}

func repeat(n int, capacity, original string) []ComponentSpec {
	out := make([]ComponentSpec, n)
	for i := range out {
		out[i] = ComponentSpec{Capacity: capacity, Quantity: 1, OriginalText: original}
	}
	return out
}
