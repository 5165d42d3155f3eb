// Package normalize groups free-text entity values from a supplier sheet,
// matches them against the company catalog, applies reviewer decisions and
// replays learned aliases and rules so known spellings resolve without review.
//
// Matching is deterministic: plain string normalization, containment and
// Levenshtein similarity. Nothing is probabilistic or trained.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
)

// NormalizeValue trims s, collapses internal whitespace and title-cases every
// token. It is used for generic free text such as brands and product types and
// is idempotent.
func NormalizeValue(s string) string {
	tokens := strings.Fields(norm.NFC.String(s))
	if len(tokens) == 0 {
		return ""
	}
	// Casers carry state; one per call.
	title := cases.Title(language.Und)
	for i, tok := range tokens {
		tokens[i] = title.String(tok)
	}
	return strings.Join(tokens, " ")
}

// NormalizeModelName trims s and nothing else. Model identifiers are case and
// punctuation significant.
func NormalizeModelName(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeFor applies the normalization appropriate to field.
func NormalizeFor(f catalog.Field, s string) string {
	switch f.Normalize {
	case catalog.NormalizeModel, catalog.NormalizeSpec:
		return NormalizeModelName(s)
	case catalog.NormalizeGeneric:
		return NormalizeValue(s)
	default:
		return s
	}
}

// lookupKey is the form stored in value_lookup rule keywords.
func lookupKey(f catalog.Field, s string) string {
	return strings.ToLower(NormalizeFor(f, s))
}
