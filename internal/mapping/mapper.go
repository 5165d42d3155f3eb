// Package mapping suggests which canonical field a supplier column header
// represents, using keyword rules seeded from the field catalog and learned
// from confirmed imports.
package mapping

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// DefaultThreshold is the confidence a suggestion must exceed to be applied
// without human input.
const DefaultThreshold = 0.5

// Priorities of built-in and learned rules. Learned rules are consulted first.
const (
	SeedPriority    = 10
	LearnedPriority = 100
)

// containedPenalty scales matches where the header is a fragment of a keyword.
const containedPenalty = 0.8

// Rule maps a set of keywords onto a canonical field.
type Rule struct {
	Field    string
	Keywords []string
	Priority int
}

// Suggestion is the best field for a header. An empty Field means no keyword
// matched and Confidence is 0.
type Suggestion struct {
	Field          string  `json:"field"`
	Confidence     float64 `json:"confidence"`
	MatchedKeyword string  `json:"matchedKeyword"`
}

// ColumnMapping is the mapping state of one supplier column.
type ColumnMapping struct {
	SupplierColumn string   `json:"supplierColumn"`
	SystemField    string   `json:"systemField"`
	SampleValues   []string `json:"sampleValues"`
	Aliases        []string `json:"aliases,omitempty"`
	Confidence     float64  `json:"confidence"`
	MatchedKeyword string   `json:"matchedKeyword,omitempty"`
	Duplicate      bool     `json:"duplicate"`
}

// Mapped reports whether the column is assigned to a field.
func (m ColumnMapping) Mapped() bool {
	return m.SystemField != ""
}

// Suggest scores header against every rule keyword. Exact (case-insensitive)
// equality wins immediately with confidence 1. Otherwise a header containing a
// keyword scores len(keyword)/len(header), and a keyword containing the header
// scores len(header)/len(keyword) scaled by 0.8. Lengths are counted in runes.
// Rules are consulted highest priority first and the first strictly best score
// is kept.
func Suggest(header string, rules []Rule) Suggestion {
	h := strings.ToLower(strings.TrimSpace(header))
	if h == "" {
		return Suggestion{}
	}
	hLen := float64(utf8.RuneCountInString(h))

	var best Suggestion
	for _, r := range byPriority(rules) {
		for _, kw := range r.Keywords {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" {
				continue
			}
			if k == h {
				return Suggestion{Field: r.Field, Confidence: 1.0, MatchedKeyword: kw}
			}

			kLen := float64(utf8.RuneCountInString(k))
			var score float64
			switch {
			case strings.Contains(h, k):
				score = kLen / hLen
			case strings.Contains(k, h):
				score = hLen / kLen * containedPenalty
			}
			if score > best.Confidence {
				best = Suggestion{Field: r.Field, Confidence: score, MatchedKeyword: kw}
			}
		}
	}
	return best
}

// SuggestAll builds the initial column mappings for a sheet. Suggestions at or
// below threshold leave the column unmapped. samples supplies up to a few
// example values per column, indexed like headers.
func SuggestAll(headers []string, rules []Rule, threshold float64, samples [][]string) []ColumnMapping {
	sorted := byPriority(rules)

	out := make([]ColumnMapping, len(headers))
	for i, h := range headers {
		m := ColumnMapping{SupplierColumn: h}
		if i < len(samples) {
			m.SampleValues = samples[i]
		}
		s := Suggest(h, sorted)
		if s.Confidence > threshold {
			m.SystemField = s.Field
			m.Confidence = s.Confidence
			m.MatchedKeyword = s.MatchedKeyword
		}
		out[i] = m
	}
	MarkDuplicates(out)
	return out
}

// MarkDuplicates flags every column whose field is also claimed by another
// column. It never unmaps anything.
func MarkDuplicates(mappings []ColumnMapping) {
	counts := make(map[string]int)
	for _, m := range mappings {
		if m.Mapped() {
			counts[m.SystemField]++
		}
	}
	for i := range mappings {
		mappings[i].Duplicate = mappings[i].Mapped() && counts[mappings[i].SystemField] > 1
	}
}

// Duplicates returns the fields claimed by more than one column, sorted.
func Duplicates(mappings []ColumnMapping) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mappings {
		if m.Duplicate && !seen[m.SystemField] {
			seen[m.SystemField] = true
			out = append(out, m.SystemField)
		}
	}
	sort.Strings(out)
	return out
}

// SeedRules derives one rule per catalog field from its keywords.
func SeedRules(c *catalog.Catalog) []Rule {
	fields := c.Fields()
	out := make([]Rule, 0, len(fields))
	for _, f := range fields {
		out = append(out, Rule{Field: f.FieldName, Keywords: f.Keywords, Priority: SeedPriority})
	}
	return out
}

// RulesFromIntelligence converts persisted column_mapping rules. Other rule
// types and inactive rules are ignored.
func RulesFromIntelligence(rules []store.IntelligenceRule) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.RuleType != store.RuleColumnMapping || !r.Active {
			continue
		}
		out = append(out, Rule{Field: r.AppliesToField, Keywords: r.InputKeywords, Priority: r.Priority})
	}
	return out
}

// LearnedRule builds the column_mapping rule persisted when a user confirms
// that header belongs to field.
func LearnedRule(header, field string) store.IntelligenceRule {
	return store.IntelligenceRule{
		RuleType:       store.RuleColumnMapping,
		AppliesToField: field,
		InputKeywords:  []string{strings.ToLower(strings.TrimSpace(header))},
		Priority:       LearnedPriority,
		OutputValue:    field,
		Active:         true,
	}
}

func byPriority(rules []Rule) []Rule {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
