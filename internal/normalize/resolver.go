package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the resolver's fan-outs when none is configured.
const DefaultConcurrency = 8

// FieldResolution is the normalize-step snapshot for one column.
type FieldResolution struct {
	Field string `json:"field"`
	// Auto holds values resolved from aliases or rules without review.
	Auto []NormalizedMapping `json:"auto"`
	// Groups holds what still needs a reviewer decision.
	Groups []EntityGroup `json:"groups"`
	// Failures lists lookups that errored. Their values stay pending.
	Failures []*PersistenceError `json:"failures,omitempty"`
}

// Resolver runs the learned-value fast path over a whole column before anything
// is shown to a reviewer.
type Resolver struct {
	n     *Normalizer
	limit int
}

// NewResolver wraps n. limit bounds concurrent store lookups.
func NewResolver(n *Normalizer, limit int) *Resolver {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Resolver{n: n, limit: limit}
}

// Normalizer returns the wrapped normalizer.
func (r *Resolver) Normalizer() *Normalizer {
	return r.n
}

// Resolve checks every distinct value of a column for an automatic resolution,
// then groups the remainder. Catalog-backed groups are decorated with existing
// entity matches. values is indexed by row.
//
// Per-value lookups run concurrently up to the configured limit. One failed
// lookup does not cancel the others; it is recorded and its value stays pending.
func (r *Resolver) Resolve(ctx context.Context, company uuid.UUID, field string, values []string) (FieldResolution, error) {
	f, err := r.n.Field(field)
	if err != nil {
		return FieldResolution{}, err
	}
	res := FieldResolution{Field: f.FieldName}
	if !f.Normalizable() {
		return res, nil
	}

	var distinct []string
	seen := make(map[string]bool)
	for _, v := range values {
		if strings.TrimSpace(v) == "" || seen[v] {
			continue
		}
		seen[v] = true
		distinct = append(distinct, v)
	}

	results := make([]AutoResult, len(distinct))
	lookupErrs := make([]error, len(distinct))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, v := range distinct {
		g.Go(func() error {
			results[i], lookupErrs[i] = r.n.CheckAutoNormalization(ctx, company, f.FieldName, v)
			return nil
		})
	}
	_ = g.Wait()

	resolved := make(map[string]bool)
	for i, v := range distinct {
		if lookupErrs[i] != nil {
			res.Failures = append(res.Failures, &PersistenceError{Item: fmt.Sprintf("%s %q", f.FieldName, v), Err: lookupErrs[i]})
			continue
		}
		if results[i].AutoApplied {
			resolved[v] = true
			res.Auto = append(res.Auto, NormalizedMapping{
				Field:         f.FieldName,
				OriginalValue: v,
				ResolvedValue: results[i].ResolvedValue,
				ResolvedID:    results[i].ResolvedID,
			})
		}
	}

	// Blank out resolved rows so row indices stay aligned.
	pending := make([]string, len(values))
	for i, v := range values {
		if !resolved[v] {
			pending[i] = v
		}
	}
	res.Groups = Analyze(f, pending)

	if f.CatalogBacked() && len(res.Groups) > 0 {
		matchErrs := make([]error, len(res.Groups))
		var mg errgroup.Group
		mg.SetLimit(r.limit)
		for i := range res.Groups {
			mg.Go(func() error {
				matches, err := r.n.CheckExistingEntities(ctx, company, f.FieldName, res.Groups[i].Variants)
				res.Groups[i].ExistingMatches = matches
				matchErrs[i] = err
				return nil
			})
		}
		_ = mg.Wait()

		for i, err := range matchErrs {
			if err != nil {
				res.Failures = append(res.Failures, &PersistenceError{
					Item: fmt.Sprintf("%s matches for %q", f.FieldName, res.Groups[i].SuggestedCanonical),
					Err:  err,
				})
			}
		}
	}
	return res, nil
}
