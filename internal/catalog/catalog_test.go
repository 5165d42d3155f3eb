package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NotNil(t, c)

	for _, name := range []string{SerialNumber, Brand, Model, ProductType, CPU, RAM, Storage,
		UnitCost, Quantity, Condition, Supplier, Location, Notes} {
		f, ok := c.Get(name)
		require.True(t, ok, "missing field %s", name)
		assert.NotEmpty(t, f.DisplayName, name)
		assert.NotEmpty(t, f.Keywords, name)
	}

	assert.Equal(t, []string{Brand, UnitCost}, c.Required())
}

func TestFieldModes(t *testing.T) {
	c := Default()

	tests := []struct {
		name          string
		normalizable  bool
		modelLike     bool
		catalogBacked bool
	}{
		{Brand, true, false, false},
		{Model, true, true, false},
		{CPU, true, true, false},
		{ProductType, true, false, true},
		{Supplier, true, false, true},
		{Location, true, false, true},
		{Notes, false, false, false},
		{UnitCost, false, false, false},
		{RAM, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := c.Get(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.normalizable, f.Normalizable())
			assert.Equal(t, tt.modelLike, f.ModelLike())
			assert.Equal(t, tt.catalogBacked, f.CatalogBacked())
		})
	}

	ram, _ := c.Get(RAM)
	assert.Equal(t, FieldSpecification, ram.FieldType)
}

func TestParse(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		c, err := Parse([]byte("fields:\n  - name: x\n    keywords: [x]\n"))
		require.NoError(t, err)
		f, ok := c.Get("x")
		require.True(t, ok)
		assert.Equal(t, FieldDirect, f.FieldType)
		assert.Equal(t, NormalizeNone, f.Normalize)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := Parse([]byte("fields:\n  - name: x\n  - name: x\n"))
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := Parse([]byte("fields:\n  - display: X\n"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Parse([]byte("fields: ["))
		assert.Error(t, err)
	})
}

func TestFieldsIsCopy(t *testing.T) {
	c := Default()
	fields := c.Fields()
	fields[0].FieldName = "mutated"

	_, ok := c.Get("mutated")
	assert.False(t, ok)
}
