package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate")))
}

func TestPgUUIDRoundTrip(t *testing.T) {
	assert.Nil(t, fromPgUUID(toPgUUID(nil)))
	assert.False(t, toPgUUID(nil).Valid)

	id := uuid.New()
	got := fromPgUUID(toPgUUID(&id))
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
}

// openTestStore connects to IMPORT_TEST_DATABASE_URL. Each test runs under a
// fresh company id so runs do not interfere.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("IMPORT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IMPORT_TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), url, PoolConfig{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()

	t.Run("entities and aliases", func(t *testing.T) {
		dell, created, err := s.FindOrCreateEntity(ctx, company, catalog.KindSupplier, "Dell")
		require.NoError(t, err)
		assert.True(t, created)

		again, created, err := s.FindOrCreateEntity(ctx, company, catalog.KindSupplier, "Dell")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, dell.ID, again.ID)

		require.NoError(t, s.AddAlias(ctx, company, catalog.KindSupplier, dell.ID, "DELL Inc"))
		require.NoError(t, s.AddAlias(ctx, company, catalog.KindSupplier, dell.ID, "dell inc"))

		found, err := s.FindEntityByAlias(ctx, company, catalog.KindSupplier, "  Dell INC ")
		require.NoError(t, err)
		assert.Equal(t, dell.ID, found.ID)

		hp, _, err := s.FindOrCreateEntity(ctx, company, catalog.KindSupplier, "HP")
		require.NoError(t, err)
		err = s.AddAlias(ctx, company, catalog.KindSupplier, hp.ID, "Dell Inc")
		assert.ErrorIs(t, err, store.ErrConflict)

		_, err = s.GetEntity(ctx, company, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rules keep insertion order", func(t *testing.T) {
		for _, kw := range []string{"b", "a", "c"} {
			_, err := s.CreateRule(ctx, store.IntelligenceRule{
				CompanyID:      company,
				RuleType:       store.RuleValueLookup,
				AppliesToField: catalog.Supplier,
				InputKeywords:  []string{kw},
				OutputValue:    kw,
			})
			require.NoError(t, err)
		}
		rules, err := s.ListRules(ctx, company, store.RuleValueLookup, catalog.Supplier)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, []string{"b"}, rules[0].InputKeywords)
		assert.Equal(t, []string{"c"}, rules[2].InputKeywords)
	})

	t.Run("line items", func(t *testing.T) {
		item := store.LineItem{
			CompanyID:    company,
			ImportID:     uuid.New(),
			SerialNumber: "SN-PG-1",
			Brand:        "Dell",
			UnitCost:     decimal.RequireFromString("100.50"),
			OriginalCost: decimal.RequireFromString("100.50"),
			ExchangeRate: decimal.NewFromInt(1),
		}
		require.NoError(t, s.InsertLineItems(ctx, []store.LineItem{item}))

		err := s.InsertLineItems(ctx, []store.LineItem{item})
		assert.ErrorIs(t, err, store.ErrConflict)

		existing, err := s.ExistingSerials(ctx, company, []string{"SN-PG-1", "SN-PG-2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"SN-PG-1"}, existing)

		changed, err := s.BackfillLineItem(ctx, company, "SN-PG-1", map[string]string{catalog.CPU: "i5"})
		require.NoError(t, err)
		assert.Equal(t, []string{catalog.CPU}, changed)

		_, err = s.BackfillLineItem(ctx, company, "SN-PG-404", map[string]string{catalog.CPU: "i5"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
