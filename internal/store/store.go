// Package store defines the persistence contract of the import engine: the
// company entity catalogs (product types, suppliers, locations), their aliases,
// learned intelligence rules, and committed inventory line items.
//
// Implementations live in sub-packages: postgres (pgx), sqlite (modernc) and
// memstore. rulecache decorates any Store with an expiring rule cache.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/specparse"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write would break a uniqueness rule: an
	// alias already pointing at another entity or a serial number already in
	// inventory.
	ErrConflict = errors.New("store: conflict")
)

// RuleType is the kind of learned rule.
type RuleType string

const (
	RuleColumnMapping    RuleType = "column_mapping"
	RuleValueLookup      RuleType = "value_lookup"
	RuleComponentPattern RuleType = "component_pattern"
)

// Entity is a row in one of the company catalogs.
type Entity struct {
	ID        uuid.UUID          `json:"id"`
	CompanyID uuid.UUID          `json:"companyId"`
	Kind      catalog.EntityKind `json:"kind"`
	Name      string             `json:"name"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"createdAt"`
}

// IntelligenceRule is a learned mapping. Rules are append-only from the
// engine's point of view.
type IntelligenceRule struct {
	ID                uuid.UUID  `json:"id"`
	CompanyID         uuid.UUID  `json:"companyId"`
	RuleType          RuleType   `json:"ruleType"`
	AppliesToField    string     `json:"appliesToField"`
	InputKeywords     []string   `json:"inputKeywords"`
	Priority          int        `json:"priority"`
	OutputValue       string     `json:"outputValue"`
	OutputReferenceID *uuid.UUID `json:"outputReferenceId,omitempty"`
	ParseWithFunction string     `json:"parseWithFunction,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// HasKeyword reports whether kw is one of the rule's input keywords.
func (r IntelligenceRule) HasKeyword(kw string) bool {
	for _, k := range r.InputKeywords {
		if k == kw {
			return true
		}
	}
	return false
}

// LineItem is a committed inventory row.
type LineItem struct {
	ID            uuid.UUID             `json:"id"`
	CompanyID     uuid.UUID             `json:"companyId"`
	ImportID      uuid.UUID             `json:"importId"`
	SerialNumber  string                `json:"serialNumber"`
	Brand         string                `json:"brand"`
	Model         string                `json:"model"`
	ProductType   string                `json:"productType"`
	ProductTypeID *uuid.UUID            `json:"productTypeId,omitempty"`
	CPU           string                `json:"cpu"`
	RAM           string                `json:"ram"`
	Storage       string                `json:"storage"`
	Condition     string                `json:"condition"`
	Supplier      string                `json:"supplier"`
	SupplierID    *uuid.UUID            `json:"supplierId,omitempty"`
	Location      string                `json:"location"`
	LocationID    *uuid.UUID            `json:"locationId,omitempty"`
	Notes         string                `json:"notes"`
	Quantity      int                   `json:"quantity"`
	UnitCost      decimal.Decimal       `json:"unitCost"`
	OriginalCost  decimal.Decimal       `json:"originalCost"`
	ExchangeRate  decimal.Decimal       `json:"exchangeRate"`
	Components    []specparse.Component `json:"components,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// BackfillFields are the line item columns an append import may fill.
// Map keys passed to BackfillLineItem outside this set are ignored.
var BackfillFields = []string{
	catalog.Model,
	catalog.CPU,
	catalog.RAM,
	catalog.Storage,
	catalog.Condition,
	catalog.Notes,
}

// IsBackfillField reports whether field is in BackfillFields.
func IsBackfillField(field string) bool {
	for _, f := range BackfillFields {
		if f == field {
			return true
		}
	}
	return false
}

// Backfill fills the blank backfill columns of li from values and returns the
// columns it changed, in BackfillFields order.
func (li *LineItem) Backfill(values map[string]string) []string {
	var changed []string
	for _, f := range BackfillFields {
		v := strings.TrimSpace(values[f])
		if v == "" {
			continue
		}
		dst := li.backfillTarget(f)
		if strings.TrimSpace(*dst) != "" {
			continue
		}
		*dst = v
		changed = append(changed, f)
	}
	return changed
}

func (li *LineItem) backfillTarget(field string) *string {
	switch field {
	case catalog.Model:
		return &li.Model
	case catalog.CPU:
		return &li.CPU
	case catalog.RAM:
		return &li.RAM
	case catalog.Storage:
		return &li.Storage
	case catalog.Condition:
		return &li.Condition
	default:
		return &li.Notes
	}
}

// EntityRepository reads and creates catalog entities.
type EntityRepository interface {
	ListActiveEntities(ctx context.Context, company uuid.UUID, kind catalog.EntityKind) ([]Entity, error)
	GetEntity(ctx context.Context, company, id uuid.UUID) (Entity, error)
	// FindOrCreateEntity returns the entity with exactly this name, creating it
	// if absent. created reports whether a new row was written.
	FindOrCreateEntity(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, name string) (e Entity, created bool, err error)
}

// AliasRepository maps alternate spellings onto entities. Aliases are unique
// case-insensitively per company and kind.
type AliasRepository interface {
	FindEntityByAlias(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, alias string) (Entity, error)
	// AddAlias is idempotent. Re-adding an alias that already points at the
	// same entity is not an error.
	AddAlias(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, entityID uuid.UUID, alias string) error
}

// RuleRepository stores intelligence rules.
type RuleRepository interface {
	// ListRules returns active rules of the given type in insertion order.
	// An empty field matches rules for every field.
	ListRules(ctx context.Context, company uuid.UUID, ruleType RuleType, field string) ([]IntelligenceRule, error)
	CreateRule(ctx context.Context, rule IntelligenceRule) (IntelligenceRule, error)
}

// InventoryRepository persists committed line items.
type InventoryRepository interface {
	// ExistingSerials returns the subset of serials already in inventory.
	ExistingSerials(ctx context.Context, company uuid.UUID, serials []string) ([]string, error)
	// InsertLineItems writes all items or none.
	InsertLineItems(ctx context.Context, items []LineItem) error
	// BackfillLineItem fills blank backfillable columns of the line item with
	// this serial and returns the columns it changed.
	BackfillLineItem(ctx context.Context, company uuid.UUID, serial string, values map[string]string) ([]string, error)
}

// Store is the full persistence contract.
type Store interface {
	EntityRepository
	AliasRepository
	RuleRepository
	InventoryRepository
	Close() error
}

// AliasKey folds an alias for case-insensitive comparison.
func AliasKey(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

// PrepareRule fills the generated columns of a rule about to be inserted.
func PrepareRule(rule IntelligenceRule, now time.Time) IntelligenceRule {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.Active = true
	return rule
}

// PrepareLineItem fills the generated columns of a line item about to be inserted.
func PrepareLineItem(item LineItem, now time.Time) LineItem {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	return item
}
