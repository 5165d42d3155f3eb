// Package memstore is an in-process store.Store. It backs the offline CLI and
// the test suites, and serves as the reference for the SQL implementations.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

type aliasKey struct {
	company uuid.UUID
	kind    catalog.EntityKind
	alias   string
}

type serialKey struct {
	company uuid.UUID
	serial  string
}

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	entities map[uuid.UUID]store.Entity
	order    []uuid.UUID
	aliases  map[aliasKey]uuid.UUID
	rules    []store.IntelligenceRule
	items    []store.LineItem
	serials  map[serialKey]int

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[uuid.UUID]store.Entity),
		aliases:  make(map[aliasKey]uuid.UUID),
		serials:  make(map[serialKey]int),
		now:      time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) ListActiveEntities(_ context.Context, company uuid.UUID, kind catalog.EntityKind) ([]store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Entity
	for _, id := range s.order {
		e := s.entities[id]
		if e.CompanyID == company && e.Kind == kind && e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetEntity(_ context.Context, company, id uuid.UUID) (store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok || e.CompanyID != company {
		return store.Entity{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) FindOrCreateEntity(_ context.Context, company uuid.UUID, kind catalog.EntityKind, name string) (store.Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		e := s.entities[id]
		if e.CompanyID == company && e.Kind == kind && e.Name == name {
			return e, false, nil
		}
	}

	e := store.Entity{
		ID:        uuid.New(),
		CompanyID: company,
		Kind:      kind,
		Name:      name,
		Active:    true,
		CreatedAt: s.now(),
	}
	s.entities[e.ID] = e
	s.order = append(s.order, e.ID)
	return e, true, nil
}

// Deactivate hides an entity from ListActiveEntities.
func (s *Store) Deactivate(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entities[id]; ok {
		e.Active = false
		s.entities[id] = e
	}
}

func (s *Store) FindEntityByAlias(_ context.Context, company uuid.UUID, kind catalog.EntityKind, alias string) (store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.aliases[aliasKey{company, kind, store.AliasKey(alias)}]
	if !ok {
		return store.Entity{}, store.ErrNotFound
	}
	return s.entities[id], nil
}

func (s *Store) AddAlias(_ context.Context, company uuid.UUID, kind catalog.EntityKind, entityID uuid.UUID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok || e.CompanyID != company || e.Kind != kind {
		return store.ErrNotFound
	}

	key := aliasKey{company, kind, store.AliasKey(alias)}
	if existing, ok := s.aliases[key]; ok {
		if existing == entityID {
			return nil
		}
		return fmt.Errorf("alias %q: %w", alias, store.ErrConflict)
	}
	s.aliases[key] = entityID
	return nil
}

func (s *Store) ListRules(_ context.Context, company uuid.UUID, ruleType store.RuleType, field string) ([]store.IntelligenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.IntelligenceRule
	for _, r := range s.rules {
		if r.CompanyID != company || r.RuleType != ruleType || !r.Active {
			continue
		}
		if field != "" && r.AppliesToField != field {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CreateRule(_ context.Context, rule store.IntelligenceRule) (store.IntelligenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule = store.PrepareRule(rule, s.now())
	rule.InputKeywords = append([]string(nil), rule.InputKeywords...)
	s.rules = append(s.rules, rule)
	return rule, nil
}

func (s *Store) ExistingSerials(_ context.Context, company uuid.UUID, serials []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, sn := range serials {
		if _, ok := s.serials[serialKey{company, sn}]; ok {
			out = append(out, sn)
		}
	}
	return out, nil
}

func (s *Store) InsertLineItems(_ context.Context, items []store.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[serialKey]bool)
	for _, it := range items {
		if it.SerialNumber == "" {
			continue
		}
		k := serialKey{it.CompanyID, it.SerialNumber}
		if _, ok := s.serials[k]; ok || batch[k] {
			return fmt.Errorf("serial %q: %w", it.SerialNumber, store.ErrConflict)
		}
		batch[k] = true
	}

	now := s.now()
	for _, it := range items {
		it = store.PrepareLineItem(it, now)
		if it.SerialNumber != "" {
			s.serials[serialKey{it.CompanyID, it.SerialNumber}] = len(s.items)
		}
		s.items = append(s.items, it)
	}
	return nil
}

func (s *Store) BackfillLineItem(_ context.Context, company uuid.UUID, serial string, values map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.serials[serialKey{company, serial}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.items[i].Backfill(values), nil
}

// LineItems returns a copy of every committed item for company.
func (s *Store) LineItems(company uuid.UUID) []store.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.LineItem
	for _, it := range s.items {
		if it.CompanyID == company {
			out = append(out, it)
		}
	}
	return out
}
