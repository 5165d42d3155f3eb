package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/specparse"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func lineItem(company uuid.UUID, serial string) store.LineItem {
	return store.LineItem{
		CompanyID:    company,
		ImportID:     uuid.New(),
		SerialNumber: serial,
		Brand:        "Dell",
		UnitCost:     decimal.RequireFromString("250.00"),
		OriginalCost: decimal.RequireFromString("250"),
		ExchangeRate: decimal.NewFromInt(1),
	}
}

func TestEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()

	laptop, created, err := s.FindOrCreateEntity(ctx, company, catalog.KindProductType, "Laptop")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, laptop.Active)

	again, created, err := s.FindOrCreateEntity(ctx, company, catalog.KindProductType, "Laptop")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, laptop.ID, again.ID)

	_, _, err = s.FindOrCreateEntity(ctx, company, catalog.KindProductType, "Desktop")
	require.NoError(t, err)
	_, _, err = s.FindOrCreateEntity(ctx, uuid.New(), catalog.KindProductType, "Server")
	require.NoError(t, err)

	list, err := s.ListActiveEntities(ctx, company, catalog.KindProductType)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Laptop", list[0].Name)
	assert.Equal(t, "Desktop", list[1].Name)

	got, err := s.GetEntity(ctx, company, laptop.ID)
	require.NoError(t, err)
	assert.Equal(t, "Laptop", got.Name)
	assert.Equal(t, catalog.KindProductType, got.Kind)

	_, err = s.GetEntity(ctx, uuid.New(), laptop.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAliases(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()

	dell, _, err := s.FindOrCreateEntity(ctx, company, catalog.KindSupplier, "Dell")
	require.NoError(t, err)
	hp, _, err := s.FindOrCreateEntity(ctx, company, catalog.KindSupplier, "HP")
	require.NoError(t, err)

	require.NoError(t, s.AddAlias(ctx, company, catalog.KindSupplier, dell.ID, "Dell Inc."))
	require.NoError(t, s.AddAlias(ctx, company, catalog.KindSupplier, dell.ID, "DELL INC."), "re-adding is idempotent")

	found, err := s.FindEntityByAlias(ctx, company, catalog.KindSupplier, " dell inc. ")
	require.NoError(t, err)
	assert.Equal(t, dell.ID, found.ID)

	err = s.AddAlias(ctx, company, catalog.KindSupplier, hp.ID, "dell inc.")
	assert.ErrorIs(t, err, store.ErrConflict)

	err = s.AddAlias(ctx, company, catalog.KindLocation, dell.ID, "Warehouse")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindEntityByAlias(ctx, company, catalog.KindSupplier, "Lenovo")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()
	ref := uuid.New()

	for i, kw := range []string{"zeta", "alpha", "mid"} {
		rule := store.IntelligenceRule{
			CompanyID:      company,
			RuleType:       store.RuleValueLookup,
			AppliesToField: catalog.Supplier,
			InputKeywords:  []string{kw},
			Priority:       i,
			OutputValue:    kw,
		}
		if i == 1 {
			rule.OutputReferenceID = &ref
		}
		created, err := s.CreateRule(ctx, rule)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.True(t, created.Active)
	}
	_, err := s.CreateRule(ctx, store.IntelligenceRule{
		CompanyID:      company,
		RuleType:       store.RuleColumnMapping,
		AppliesToField: catalog.Brand,
		InputKeywords:  []string{"make"},
	})
	require.NoError(t, err)

	rules, err := s.ListRules(ctx, company, store.RuleValueLookup, catalog.Supplier)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, []string{"zeta"}, rules[0].InputKeywords)
	assert.Equal(t, []string{"alpha"}, rules[1].InputKeywords)
	require.NotNil(t, rules[1].OutputReferenceID)
	assert.Equal(t, ref, *rules[1].OutputReferenceID)
	assert.Nil(t, rules[0].OutputReferenceID)
	assert.False(t, rules[0].CreatedAt.IsZero())

	all, err := s.ListRules(ctx, company, store.RuleColumnMapping, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, catalog.Brand, all[0].AppliesToField)

	none, err := s.ListRules(ctx, uuid.New(), store.RuleValueLookup, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInventory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()

	first := lineItem(company, "SN-1")
	first.RAM = "16GB"
	first.Components = specparse.Expand("2x8GB")
	require.NoError(t, s.InsertLineItems(ctx, []store.LineItem{first, lineItem(company, ""), lineItem(company, "")}))

	t.Run("conflict rolls back the batch", func(t *testing.T) {
		err := s.InsertLineItems(ctx, []store.LineItem{lineItem(company, "SN-2"), lineItem(company, "SN-1")})
		assert.ErrorIs(t, err, store.ErrConflict)

		existing, err := s.ExistingSerials(ctx, company, []string{"SN-1", "SN-2", "SN-3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"SN-1"}, existing)
	})

	t.Run("serials are scoped by company", func(t *testing.T) {
		require.NoError(t, s.InsertLineItems(ctx, []store.LineItem{lineItem(uuid.New(), "SN-1")}))
	})

	t.Run("backfill fills blanks only", func(t *testing.T) {
		changed, err := s.BackfillLineItem(ctx, company, "SN-1", map[string]string{
			catalog.RAM: "32GB",
			catalog.CPU: "i7-8650U",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{catalog.CPU}, changed)

		changed, err = s.BackfillLineItem(ctx, company, "SN-1", map[string]string{catalog.CPU: "i5"})
		require.NoError(t, err)
		assert.Empty(t, changed)

		_, err = s.BackfillLineItem(ctx, company, "SN-404", map[string]string{catalog.CPU: "i5"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestExistingSerialsChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	company := uuid.New()

	var items []store.LineItem
	var serials []string
	for i := 0; i < maxParams+20; i++ {
		sn := uuid.NewString()
		serials = append(serials, sn)
		if i%2 == 0 {
			items = append(items, lineItem(company, sn))
		}
	}
	require.NoError(t, s.InsertLineItems(ctx, items))

	existing, err := s.ExistingSerials(ctx, company, serials)
	require.NoError(t, err)
	assert.Len(t, existing, len(items))
}

func TestInsertLineItemsRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	company := uuid.New()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO line_items"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.InsertLineItems(context.Background(), []store.LineItem{lineItem(company, "A"), lineItem(company, "B")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrConflict)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLineItemsMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO line_items")).
		ExpectExec().
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: line_items.company_id, line_items.serial_number (2067)"))
	mock.ExpectRollback()

	err = s.InsertLineItems(context.Background(), []store.LineItem{lineItem(uuid.New(), "A")})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = s.BackfillLineItem(context.Background(), uuid.New(), "A", map[string]string{catalog.CPU: "i5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRulesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM intelligence_rules")).
		WillReturnError(errors.New("no such table: intelligence_rules"))

	_, err = s.ListRules(context.Background(), uuid.New(), store.RuleColumnMapping, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list rules")
}
