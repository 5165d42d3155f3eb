package normalize

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
)

// EntityVariant is every row sharing one normalized value.
type EntityVariant struct {
	OriginalValues  []string `json:"originalValues"`
	NormalizedValue string   `json:"normalizedValue"`
	Count           int      `json:"count"`
	RowIndices      []int    `json:"rowIndices"`
}

// ExistingMatch is a catalog entity that resembles one of a group's variants.
type ExistingMatch struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Similarity float64   `json:"similarity"`
	Variant    string    `json:"variant"`
}

// EntityGroup is a set of variants awaiting one reviewer decision. Groups live
// only as long as the import session that produced them.
type EntityGroup struct {
	Field              string          `json:"field"`
	Variants           []EntityVariant `json:"variants"`
	SuggestedCanonical string          `json:"suggestedCanonical"`
	ExistingMatches    []ExistingMatch `json:"existingMatches"`
}

// OriginalValues returns every original spelling in the group.
func (g EntityGroup) OriginalValues() []string {
	var out []string
	for _, v := range g.Variants {
		out = append(out, v.OriginalValues...)
	}
	return out
}

// AnalyzeEntityField groups a column's values by normalized form into a single
// group for the field. values is indexed by row; blank cells are ignored.
// Pass-through fields, non-normalizable fields and the model field yield nil.
func AnalyzeEntityField(f catalog.Field, values []string) []EntityGroup {
	if !f.Normalizable() || f.FieldName == catalog.Model {
		return nil
	}

	variants := collect(f, values)
	if len(variants) == 0 {
		return nil
	}
	return []EntityGroup{{
		Field:              f.FieldName,
		Variants:           variants,
		SuggestedCanonical: SuggestCanonical(variants),
	}}
}

// AnalyzeModelLikeField emits one group per distinct normalized value, and only
// for values that repeat or were spelled more than one way.
func AnalyzeModelLikeField(f catalog.Field, values []string) []EntityGroup {
	if !f.Normalizable() {
		return nil
	}

	var out []EntityGroup
	for _, v := range collect(f, values) {
		if v.Count <= 1 && len(v.OriginalValues) <= 1 {
			continue
		}
		out = append(out, EntityGroup{
			Field:              f.FieldName,
			Variants:           []EntityVariant{v},
			SuggestedCanonical: v.NormalizedValue,
		})
	}
	return out
}

// Analyze picks the grouping strategy for f.
func Analyze(f catalog.Field, values []string) []EntityGroup {
	if f.ModelLike() {
		return AnalyzeModelLikeField(f, values)
	}
	return AnalyzeEntityField(f, values)
}

// SuggestCanonical returns the normalized value of the most frequent variant.
// Ties go to the lexicographically smallest value.
func SuggestCanonical(variants []EntityVariant) string {
	var best *EntityVariant
	for i := range variants {
		v := &variants[i]
		if best == nil || v.Count > best.Count ||
			(v.Count == best.Count && v.NormalizedValue < best.NormalizedValue) {
			best = v
		}
	}
	if best == nil {
		return ""
	}
	return best.NormalizedValue
}

// collect builds variants ordered by count descending, then normalized value.
func collect(f catalog.Field, values []string) []EntityVariant {
	index := make(map[string]int)
	var variants []EntityVariant
	originals := make(map[string]map[string]struct{})

	for row, raw := range values {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		key := NormalizeFor(f, raw)

		i, ok := index[key]
		if !ok {
			i = len(variants)
			index[key] = i
			variants = append(variants, EntityVariant{NormalizedValue: key})
			originals[key] = make(map[string]struct{})
		}
		variants[i].Count++
		variants[i].RowIndices = append(variants[i].RowIndices, row)
		originals[key][raw] = struct{}{}
	}

	for i := range variants {
		set := originals[variants[i].NormalizedValue]
		vals := make([]string, 0, len(set))
		for s := range set {
			vals = append(vals, s)
		}
		sort.Strings(vals)
		variants[i].OriginalValues = vals
	}

	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].Count != variants[j].Count {
			return variants[i].Count > variants[j].Count
		}
		return variants[i].NormalizedValue < variants[j].NormalizedValue
	})
	return variants
}
