package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// Defaults for Options.
const (
	DefaultSimilarityThreshold = 0.6
	DefaultMaxMatches          = 3
	ValueRulePriority          = 50
)

// ErrUnknownField is returned for a field the catalog does not define.
var ErrUnknownField = errors.New("unknown field")

// ErrNotCatalogField is returned when an operation needs a catalog-backed
// field (link_existing, aliases) and gets something else.
var ErrNotCatalogField = errors.New("field is not backed by a catalog")

// Repository is the store surface the normalizer needs.
type Repository interface {
	store.EntityRepository
	store.AliasRepository
	store.RuleRepository
}

// Options tune matching.
type Options struct {
	// SimilarityThreshold is the score an existing entity must exceed.
	SimilarityThreshold float64
	// MaxMatches caps existing matches per group.
	MaxMatches int
}

// Normalizer resolves free-text values against a company's catalog and
// records what reviewers teach it.
type Normalizer struct {
	fields *catalog.Catalog
	repo   Repository
	opts   Options
}

// New creates a Normalizer. Zero options fall back to the defaults.
func New(fields *catalog.Catalog, repo Repository, opts Options) *Normalizer {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = DefaultMaxMatches
	}
	return &Normalizer{fields: fields, repo: repo, opts: opts}
}

// Field looks up a catalog field.
func (n *Normalizer) Field(name string) (catalog.Field, error) {
	f, ok := n.fields.Get(name)
	if !ok {
		return catalog.Field{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// CheckExistingEntities compares every variant against the company's active
// entities for a catalog-backed field. Each entity is reported once, with its
// best-scoring variant; only scores above the threshold are kept and at most
// MaxMatches are returned, highest first. Other fields return nil.
func (n *Normalizer) CheckExistingEntities(ctx context.Context, company uuid.UUID, field string, variants []EntityVariant) ([]ExistingMatch, error) {
	f, err := n.Field(field)
	if err != nil {
		return nil, err
	}
	if !f.CatalogBacked() || len(variants) == 0 {
		return nil, nil
	}

	entities, err := n.repo.ListActiveEntities(ctx, company, f.Catalog)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", f.Catalog, err)
	}

	var matches []ExistingMatch
	for _, e := range entities {
		best := ExistingMatch{ID: e.ID, Name: e.Name}
		for _, v := range variants {
			if s := Similarity(v.NormalizedValue, e.Name); s > best.Similarity {
				best.Similarity = s
				best.Variant = v.NormalizedValue
			}
		}
		if best.Similarity > n.opts.SimilarityThreshold {
			matches = append(matches, best)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Name < matches[j].Name
	})
	if len(matches) > n.opts.MaxMatches {
		matches = matches[:n.opts.MaxMatches]
	}
	return matches, nil
}

// ApplyResult is the outcome of one decision. Mappings cover every variant;
// Failures lists alias and rule writes that did not succeed.
type ApplyResult struct {
	Mappings []NormalizedMapping
	Failures []*PersistenceError
}

// ApplyDecision resolves a decision's variants. Skip passes values through.
// CreateNew finds or creates an entity by exact name for catalog fields, or
// just adopts the name for the rest. LinkExisting takes the canonical name
// from the stored entity, never from the reviewer's input.
//
// Alias and rule writes are attempted per variant after resolution. Their
// failures are collected rather than returned and nothing is rolled back.
func (n *Normalizer) ApplyDecision(ctx context.Context, company uuid.UUID, d Decision) (ApplyResult, error) {
	f, err := n.Field(d.Field)
	if err != nil {
		return ApplyResult{}, err
	}

	var (
		resolvedValue string
		resolvedID    *uuid.UUID
	)

	switch a := d.Action.(type) {
	case Skip, nil:
		res := ApplyResult{Mappings: make([]NormalizedMapping, 0, len(d.Variants))}
		for _, v := range d.Variants {
			res.Mappings = append(res.Mappings, NormalizedMapping{Field: f.FieldName, OriginalValue: v, ResolvedValue: v})
		}
		return res, nil

	case CreateNew:
		name := strings.TrimSpace(a.CanonicalName)
		if name == "" {
			return ApplyResult{}, fmt.Errorf("create_new for %s: empty canonical name", f.FieldName)
		}
		resolvedValue = name
		if f.CatalogBacked() {
			e, _, err := n.repo.FindOrCreateEntity(ctx, company, f.Catalog, name)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("create %s %q: %w", f.Catalog, name, err)
			}
			resolvedValue = e.Name
			id := e.ID
			resolvedID = &id
		}

	case LinkExisting:
		if !f.CatalogBacked() {
			return ApplyResult{}, fmt.Errorf("link_existing on %s: %w", f.FieldName, ErrNotCatalogField)
		}
		e, err := n.repo.GetEntity(ctx, company, a.ExistingID)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("load %s %s: %w", f.Catalog, a.ExistingID, err)
		}
		if e.Kind != f.Catalog {
			return ApplyResult{}, fmt.Errorf("entity %s is a %s, not a %s: %w", e.ID, e.Kind, f.Catalog, store.ErrNotFound)
		}
		resolvedValue = e.Name
		id := e.ID
		resolvedID = &id

	default:
		return ApplyResult{}, fmt.Errorf("unknown action %T", d.Action)
	}

	res := ApplyResult{Mappings: make([]NormalizedMapping, 0, len(d.Variants))}
	for _, v := range d.Variants {
		res.Mappings = append(res.Mappings, NormalizedMapping{
			Field:         f.FieldName,
			OriginalValue: v,
			ResolvedValue: resolvedValue,
			ResolvedID:    resolvedID,
		})

		if d.SaveAsAliases && f.CatalogBacked() && resolvedID != nil {
			if err := n.repo.AddAlias(ctx, company, f.Catalog, *resolvedID, v); err != nil {
				res.Failures = append(res.Failures, &PersistenceError{Item: fmt.Sprintf("alias %q", v), Err: err})
			}
		}

		if d.CreateIntelligenceRules {
			rule := store.IntelligenceRule{
				CompanyID:         company,
				RuleType:          store.RuleValueLookup,
				AppliesToField:    f.FieldName,
				InputKeywords:     []string{lookupKey(f, v)},
				Priority:          ValueRulePriority,
				OutputValue:       resolvedValue,
				OutputReferenceID: resolvedID,
				Active:            true,
			}
			if _, err := n.repo.CreateRule(ctx, rule); err != nil {
				res.Failures = append(res.Failures, &PersistenceError{Item: fmt.Sprintf("rule %q", v), Err: err})
			}
		}
	}
	return res, nil
}

// AutoResult is the outcome of the learned-value fast path.
type AutoResult struct {
	ResolvedValue string     `json:"resolvedValue"`
	ResolvedID    *uuid.UUID `json:"resolvedId,omitempty"`
	AutoApplied   bool       `json:"autoApplied"`
}

// CheckAutoNormalization tries to resolve value from what reviewers taught
// before. Pass-through and non-normalizable fields never resolve. Catalog
// fields check the alias table first (case-insensitive); an alias of a
// deactivated entity counts as no match. Then value_lookup
// rules for the field are scanned in stored order and the first whose
// keywords contain the normalized value wins. AutoApplied is false when
// nothing matched.
func (n *Normalizer) CheckAutoNormalization(ctx context.Context, company uuid.UUID, field, value string) (AutoResult, error) {
	pending := AutoResult{ResolvedValue: value}

	f, err := n.Field(field)
	if err != nil {
		return pending, err
	}
	if !f.Normalizable() || strings.TrimSpace(value) == "" {
		return pending, nil
	}

	if f.CatalogBacked() {
		e, err := n.repo.FindEntityByAlias(ctx, company, f.Catalog, value)
		switch {
		case err == nil && e.Active:
			id := e.ID
			return AutoResult{ResolvedValue: e.Name, ResolvedID: &id, AutoApplied: true}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return pending, fmt.Errorf("alias lookup %q: %w", value, err)
		}
	}

	rules, err := n.repo.ListRules(ctx, company, store.RuleValueLookup, f.FieldName)
	if err != nil {
		return pending, fmt.Errorf("list rules for %s: %w", f.FieldName, err)
	}
	key := lookupKey(f, value)
	for _, r := range rules {
		if !r.Active || r.AppliesToField != f.FieldName {
			continue
		}
		if r.HasKeyword(key) {
			return AutoResult{ResolvedValue: r.OutputValue, ResolvedID: r.OutputReferenceID, AutoApplied: true}, nil
		}
	}
	return pending, nil
}
