// Package rulecache decorates a store.Store with an expiring LRU cache of
// intelligence rule lists. Every import reads the same column and value
// rules, while writes are rare and go through the decorator.
package rulecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// Defaults
const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

type key struct {
	company  uuid.UUID
	ruleType store.RuleType
	field    string
}

type scope struct {
	company  uuid.UUID
	ruleType store.RuleType
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Store caches ListRules and passes every other call through.
type Store struct {
	store.Store

	cache  *expirable.LRU[key, []store.IntelligenceRule]
	hits   atomic.Int64
	misses atomic.Int64

	// mu orders cache fills against invalidation. A fill is dropped when the
	// generation of its scope moved while the backing read was in flight.
	mu    sync.Mutex
	gens  map[scope]uint64
	epoch uint64
}

var _ store.Store = (*Store)(nil)

// New wraps next. Non-positive size or ttl fall back to the defaults.
func New(next store.Store, size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		Store: next,
		cache: expirable.NewLRU[key, []store.IntelligenceRule](size, nil, ttl),
		gens:  make(map[scope]uint64),
	}
}

// ListRules serves from the cache when it can. The returned slice is a copy.
func (s *Store) ListRules(ctx context.Context, company uuid.UUID, ruleType store.RuleType, field string) ([]store.IntelligenceRule, error) {
	k := key{company, ruleType, field}
	if rules, ok := s.cache.Get(k); ok {
		s.hits.Add(1)
		return clone(rules), nil
	}
	s.misses.Add(1)

	sc := scope{company, ruleType}
	s.mu.Lock()
	gen, epoch := s.gens[sc], s.epoch
	s.mu.Unlock()

	rules, err := s.Store.ListRules(ctx, company, ruleType, field)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gens[sc] == gen && s.epoch == epoch {
		s.cache.Add(k, clone(rules))
	}
	s.mu.Unlock()
	return rules, nil
}

// CreateRule writes through and drops every cached list the rule could
// appear in.
func (s *Store) CreateRule(ctx context.Context, rule store.IntelligenceRule) (store.IntelligenceRule, error) {
	created, err := s.Store.CreateRule(ctx, rule)
	if err != nil {
		return created, err
	}
	s.Invalidate(created.CompanyID, created.RuleType)
	return created, nil
}

// Invalidate drops the cached lists of one company and rule type.
func (s *Store) Invalidate(company uuid.UUID, ruleType store.RuleType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gens[scope{company, ruleType}]++
	for _, k := range s.cache.Keys() {
		if k.company == company && k.ruleType == ruleType {
			s.cache.Remove(k)
		}
	}
}

// Purge empties the cache.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cache.Purge()
}

// Ping checks the wrapped store when it supports health checks.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats returns hit and miss counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: s.cache.Len(),
	}
}

func clone(rules []store.IntelligenceRule) []store.IntelligenceRule {
	if rules == nil {
		return nil
	}
	out := make([]store.IntelligenceRule, len(rules))
	for i, r := range rules {
		r.InputKeywords = append([]string(nil), r.InputKeywords...)
		out[i] = r
	}
	return out
}
