package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

func testRules() []Rule {
	return []Rule{
		{Field: "serial_number", Keywords: []string{"serial", "serial number", "s/n"}, Priority: SeedPriority},
		{Field: "model", Keywords: []string{"model"}, Priority: SeedPriority},
		{Field: "unit_cost", Keywords: []string{"cost", "unit price"}, Priority: SeedPriority},
		{Field: "brand", Keywords: []string{"brand", "manufacturer"}, Priority: SeedPriority},
	}
}

func TestSuggest(t *testing.T) {
	rules := testRules()

	tests := []struct {
		name       string
		header     string
		wantField  string
		wantConf   float64
		wantKeywrd string
	}{
		{"exact", "Serial", "serial_number", 1.0, "serial"},
		{"exact case and space", "  MANUFACTURER ", "brand", 1.0, "manufacturer"},
		{"header contains keyword", "Model Code", "model", 0.5, "model"},
		{"header contains longer keyword wins", "Serial Number #", "serial_number", 13.0 / 15.0, "serial number"},
		{"keyword contains header", "unit", "unit_cost", 4.0 / 10.0 * 0.8, "unit price"},
		{"unrecognized", "Warehouse Bin", "", 0, ""},
		{"empty header", "   ", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.header, rules)
			assert.Equal(t, tt.wantField, got.Field)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantKeywrd, got.MatchedKeyword)
		})
	}
}

func TestSuggest_RuneLengths(t *testing.T) {
	rules := []Rule{{Field: "price", Keywords: []string{"préis"}}}

	got := Suggest("préis €", rules)
	assert.Equal(t, "price", got.Field)
	assert.InDelta(t, 5.0/7.0, got.Confidence, 1e-9)
}

func TestSuggest_PriorityOrder(t *testing.T) {
	rules := []Rule{
		{Field: "condition", Keywords: []string{"grade"}, Priority: SeedPriority},
		{Field: "cpu", Keywords: []string{"grade"}, Priority: LearnedPriority},
	}

	got := Suggest("Grade", rules)
	assert.Equal(t, "cpu", got.Field)

	// Equal partial scores keep the higher-priority rule.
	got = Suggest("Grade A", rules)
	assert.Equal(t, "cpu", got.Field)
}

func TestSuggest_SkipsEmptyKeywords(t *testing.T) {
	rules := []Rule{{Field: "x", Keywords: []string{"", "  "}}}
	assert.Equal(t, Suggestion{}, Suggest("anything", rules))
}

func TestSuggestAll(t *testing.T) {
	headers := []string{"Serial", "Model Code", "Manufacturer", "Brands", "Remarks"}
	samples := [][]string{{"SN1", "SN2"}, {"T480"}}

	got := SuggestAll(headers, testRules(), DefaultThreshold, samples)
	require.Len(t, got, 5)

	assert.Equal(t, "serial_number", got[0].SystemField)
	assert.Equal(t, []string{"SN1", "SN2"}, got[0].SampleValues)

	// 5/10 sits exactly on the threshold and must not be applied.
	assert.Equal(t, "", got[1].SystemField)
	assert.Zero(t, got[1].Confidence)
	assert.Equal(t, []string{"T480"}, got[1].SampleValues)

	assert.Equal(t, "brand", got[2].SystemField)
	assert.Equal(t, "brand", got[3].SystemField)
	assert.True(t, got[2].Duplicate)
	assert.True(t, got[3].Duplicate)

	assert.False(t, got[4].Mapped())
	assert.False(t, got[4].Duplicate)

	assert.Equal(t, []string{"brand"}, Duplicates(got))
}

func TestMarkDuplicates_ClearsStaleFlags(t *testing.T) {
	m := []ColumnMapping{
		{SupplierColumn: "a", SystemField: "brand", Duplicate: true},
		{SupplierColumn: "b", SystemField: "model", Duplicate: true},
	}
	MarkDuplicates(m)
	assert.False(t, m[0].Duplicate)
	assert.False(t, m[1].Duplicate)
}

func TestSeedRules(t *testing.T) {
	rules := SeedRules(catalog.Default())
	require.NotEmpty(t, rules)

	assert.Equal(t, "unit_cost", Suggest("Unit Cost", rules).Field)
	assert.Equal(t, "serial_number", Suggest("S/N", rules).Field)
	assert.Equal(t, "ram", Suggest("Memory", rules).Field)
}

func TestLearnedRuleRoundTrip(t *testing.T) {
	learned := LearnedRule("  Mfg Part ", "model")
	assert.Equal(t, store.RuleColumnMapping, learned.RuleType)
	assert.Equal(t, []string{"mfg part"}, learned.InputKeywords)

	inactive := learned
	inactive.Active = false
	other := store.IntelligenceRule{RuleType: store.RuleValueLookup, Active: true}

	converted := RulesFromIntelligence([]store.IntelligenceRule{learned, inactive, other})
	require.Len(t, converted, 1)

	rules := append(converted, SeedRules(catalog.Default())...)

	got := Suggest("MFG PART", rules)
	assert.Equal(t, "model", got.Field)
	assert.Equal(t, 1.0, got.Confidence)
}
