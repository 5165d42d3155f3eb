// Package catalog holds the canonical inventory fields that supplier columns
// map onto. The catalog is embedded reference data and is read-only at runtime.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FieldType distinguishes plain values from compound hardware specs.
type FieldType string

const (
	FieldDirect        FieldType = "direct"
	FieldSpecification FieldType = "specification"
)

// NormalizeMode selects how a field's values are grouped during normalization.
type NormalizeMode string

const (
	NormalizeGeneric     NormalizeMode = "generic"
	NormalizeModel       NormalizeMode = "model"
	NormalizeSpec        NormalizeMode = "spec"
	NormalizePassthrough NormalizeMode = "passthrough"
	NormalizeNone        NormalizeMode = "none"
)

// EntityKind names a company catalog a field resolves against.
type EntityKind string

const (
	KindProductType EntityKind = "product_type"
	KindSupplier    EntityKind = "supplier"
	KindLocation    EntityKind = "location"
)

// Field is one canonical inventory field.
type Field struct {
	FieldName   string        `yaml:"name" json:"fieldName"`
	DisplayName string        `yaml:"display" json:"displayName"`
	FieldType   FieldType     `yaml:"type" json:"fieldType"`
	Keywords    []string      `yaml:"keywords" json:"keywords"`
	Normalize   NormalizeMode `yaml:"normalize" json:"normalize"`
	Catalog     EntityKind    `yaml:"catalog,omitempty" json:"catalog,omitempty"`
	Required    bool          `yaml:"required,omitempty" json:"required"`
}

// Normalizable reports whether values of this field go through the
// normalization step at all.
func (f Field) Normalizable() bool {
	switch f.Normalize {
	case NormalizeGeneric, NormalizeModel, NormalizeSpec:
		return true
	}
	return false
}

// ModelLike reports whether values are grouped one cluster per distinct value.
func (f Field) ModelLike() bool {
	return f.Normalize == NormalizeModel || f.Normalize == NormalizeSpec
}

// CatalogBacked reports whether the field resolves against company entities.
func (f Field) CatalogBacked() bool {
	return f.Catalog != ""
}

// Field names referenced by the import pipeline.
const (
	SerialNumber = "serial_number"
	Brand        = "brand"
	Model        = "model"
	ProductType  = "product_type"
	CPU          = "cpu"
	RAM          = "ram"
	Storage      = "storage"
	UnitCost     = "unit_cost"
	Quantity     = "quantity"
	Condition    = "condition"
	Supplier     = "supplier"
	Location     = "location"
	Notes        = "notes"
)

//go:embed fields.yaml
var fieldsYAML []byte

type document struct {
	Fields []Field `yaml:"fields"`
}

// Catalog is an ordered, indexed set of canonical fields.
type Catalog struct {
	fields []Field
	byName map[string]int
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded document is
// malformed, which can only happen at build time.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(fieldsYAML)
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded fields.yaml: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Parse builds a catalog from a YAML document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]int, len(doc.Fields))}
	for _, f := range doc.Fields {
		if f.FieldName == "" {
			return nil, fmt.Errorf("field without name")
		}
		if _, dup := c.byName[f.FieldName]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.FieldName)
		}
		if f.FieldType == "" {
			f.FieldType = FieldDirect
		}
		if f.Normalize == "" {
			f.Normalize = NormalizeNone
		}
		c.byName[f.FieldName] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c, nil
}

// Fields returns a copy of all fields in declaration order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Get looks up a field by name.
func (c *Catalog) Get(name string) (Field, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Required returns the names of fields that must be mapped before commit,
// sorted for stable error output.
func (c *Catalog) Required() []string {
	var out []string
	for _, f := range c.fields {
		if f.Required {
			out = append(out, f.FieldName)
		}
	}
	sort.Strings(out)
	return out
}
