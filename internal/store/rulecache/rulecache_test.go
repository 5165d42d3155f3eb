package rulecache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
	"github.com/kamal2602/thinkhub-sub001/internal/store/memstore"
)

// countingStore counts ListRules calls that reach the backing store.
type countingStore struct {
	*memstore.Store
	lists atomic.Int64
}

func (c *countingStore) ListRules(ctx context.Context, company uuid.UUID, rt store.RuleType, field string) ([]store.IntelligenceRule, error) {
	c.lists.Add(1)
	return c.Store.ListRules(ctx, company, rt, field)
}

// gatedStore blocks the first ListRules after its backing read until release
// is closed.
type gatedStore struct {
	*memstore.Store
	fetched chan struct{}
	release chan struct{}
	once    atomic.Bool
}

func (g *gatedStore) ListRules(ctx context.Context, company uuid.UUID, rt store.RuleType, field string) ([]store.IntelligenceRule, error) {
	rules, err := g.Store.ListRules(ctx, company, rt, field)
	if g.once.CompareAndSwap(false, true) {
		close(g.fetched)
		<-g.release
	}
	return rules, err
}

func columnRule(company uuid.UUID, keyword, field string) store.IntelligenceRule {
	return store.IntelligenceRule{
		CompanyID:      company,
		RuleType:       store.RuleColumnMapping,
		AppliesToField: field,
		InputKeywords:  []string{keyword},
	}
}

func TestListRulesIsCached(t *testing.T) {
	ctx := context.Background()
	company := uuid.New()
	backing := &countingStore{Store: memstore.New()}
	s := New(backing, 16, time.Minute)

	_, err := s.CreateRule(ctx, columnRule(company, "make", catalog.Brand))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rules, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
		require.NoError(t, err)
		require.Len(t, rules, 1)
	}
	assert.Equal(t, int64(1), backing.lists.Load())

	st := s.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 1, st.Entries)
}

func TestCreateRuleInvalidates(t *testing.T) {
	ctx := context.Background()
	company := uuid.New()
	other := uuid.New()
	backing := &countingStore{Store: memstore.New()}
	s := New(backing, 16, time.Minute)

	_, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	_, err = s.ListRules(ctx, other, store.RuleColumnMapping, "")
	require.NoError(t, err)

	_, err = s.CreateRule(ctx, columnRule(company, "make", catalog.Brand))
	require.NoError(t, err)

	rules, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	assert.Len(t, rules, 1, "new rule is visible right away")

	_, err = s.ListRules(ctx, other, store.RuleColumnMapping, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), backing.lists.Load(), "other company's entry survives")
}

func TestCachedSliceIsCopied(t *testing.T) {
	ctx := context.Background()
	company := uuid.New()
	s := New(memstore.New(), 0, 0)

	_, err := s.CreateRule(ctx, columnRule(company, "make", catalog.Brand))
	require.NoError(t, err)

	first, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	first[0].InputKeywords[0] = "mutated"

	second, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"make"}, second[0].InputKeywords)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	company := uuid.New()
	backing := &countingStore{Store: memstore.New()}
	s := New(backing, 16, 20*time.Millisecond)

	_, err := s.ListRules(ctx, company, store.RuleValueLookup, catalog.Supplier)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := s.ListRules(ctx, company, store.RuleValueLookup, catalog.Supplier)
		return err == nil && backing.lists.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestStaleFillAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	company := uuid.New()
	backing := &gatedStore{Store: memstore.New(), fetched: make(chan struct{}), release: make(chan struct{})}
	s := New(backing, 16, time.Minute)

	done := make(chan []store.IntelligenceRule)
	go func() {
		rules, _ := s.ListRules(ctx, company, store.RuleColumnMapping, "")
		done <- rules
	}()

	<-backing.fetched
	_, err := s.CreateRule(ctx, columnRule(company, "make", catalog.Brand))
	require.NoError(t, err)
	close(backing.release)
	assert.Empty(t, <-done, "the in-flight read started before the rule existed")

	rules, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}
