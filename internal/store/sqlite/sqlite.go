// Package sqlite implements store.Store on an embedded SQLite database using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

//go:embed schema.sql
var schema string

// constraintUnique is SQLITE_CONSTRAINT_UNIQUE.
const constraintUnique = 2067

// maxParams bounds the placeholders in one IN list.
const maxParams = 500

// Store is a store.Store backed by database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens the database at dsn (a file path or ":memory:") and applies the
// schema. SQLite allows one writer, so the pool is capped at one connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The schema is not applied.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ----------------------------------------------------------------------------
// Entities
// ----------------------------------------------------------------------------

const entityColumns = `id, company_id, kind, name, active, created_at`

func (s *Store) ListActiveEntities(ctx context.Context, company uuid.UUID, kind catalog.EntityKind) ([]store.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE company_id = ? AND kind = ? AND active = 1
		 ORDER BY rowid`,
		company.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []store.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetEntity(ctx context.Context, company, id uuid.UUID) (store.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE company_id = ? AND id = ?`,
		company.String(), id.String())
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entity{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (s *Store) FindOrCreateEntity(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, name string) (store.Entity, bool, error) {
	e := store.Entity{
		ID:        uuid.New(),
		CompanyID: company,
		Kind:      kind,
		Name:      name,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, company_id, kind, name, active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (company_id, kind, name) DO NOTHING`,
		e.ID.String(), company.String(), string(kind), name, formatTime(e.CreatedAt))
	if err != nil {
		return store.Entity{}, false, fmt.Errorf("create entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return e, true, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE company_id = ? AND kind = ? AND name = ?`,
		company.String(), string(kind), name)
	e, err = scanEntity(row)
	if err != nil {
		return store.Entity{}, false, fmt.Errorf("find entity: %w", err)
	}
	return e, false, nil
}

// ----------------------------------------------------------------------------
// Aliases
// ----------------------------------------------------------------------------

func (s *Store) FindEntityByAlias(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, alias string) (store.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.company_id, e.kind, e.name, e.active, e.created_at
		 FROM entity_aliases a JOIN entities e ON e.id = a.entity_id
		 WHERE a.company_id = ? AND a.kind = ? AND a.alias_key = ?`,
		company.String(), string(kind), store.AliasKey(alias))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entity{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("find alias: %w", err)
	}
	return e, nil
}

func (s *Store) AddAlias(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, entityID uuid.UUID, alias string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE id = ? AND company_id = ? AND kind = ?`,
		entityID.String(), company.String(), string(kind)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check alias entity: %w", err)
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	key := store.AliasKey(alias)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_aliases (company_id, kind, alias_key, alias, entity_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, kind, alias_key) DO NOTHING`,
		company.String(), string(kind), key, alias, entityID.String())
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var owner string
	err = s.db.QueryRowContext(ctx,
		`SELECT entity_id FROM entity_aliases WHERE company_id = ? AND kind = ? AND alias_key = ?`,
		company.String(), string(kind), key).Scan(&owner)
	if err != nil {
		return fmt.Errorf("read alias owner: %w", err)
	}
	if owner == entityID.String() {
		return nil
	}
	return fmt.Errorf("alias %q: %w", alias, store.ErrConflict)
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

func (s *Store) ListRules(ctx context.Context, company uuid.UUID, ruleType store.RuleType, field string) ([]store.IntelligenceRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, rule_type, applies_to_field, input_keywords, priority,
		        output_value, output_reference_id, parse_with_function, active, created_at
		 FROM intelligence_rules
		 WHERE company_id = ? AND rule_type = ? AND active = 1
		   AND (? = '' OR applies_to_field = ?)
		 ORDER BY seq`,
		company.String(), string(ruleType), field, field)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []store.IntelligenceRule
	for rows.Next() {
		var (
			id, companyID, rt, keywords, createdAt string
			ref                                    uuid.NullUUID
			r                                      store.IntelligenceRule
		)
		if err := rows.Scan(&id, &companyID, &rt, &r.AppliesToField, &keywords, &r.Priority,
			&r.OutputValue, &ref, &r.ParseWithFunction, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("rule id: %w", err)
		}
		if r.CompanyID, err = uuid.Parse(companyID); err != nil {
			return nil, fmt.Errorf("rule company: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &r.InputKeywords); err != nil {
			return nil, fmt.Errorf("rule keywords: %w", err)
		}
		r.RuleType = store.RuleType(rt)
		if ref.Valid {
			r.OutputReferenceID = &ref.UUID
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, rule store.IntelligenceRule) (store.IntelligenceRule, error) {
	rule = store.PrepareRule(rule, s.now().UTC())
	keywords := rule.InputKeywords
	if keywords == nil {
		keywords = []string{}
	}
	encoded, err := json.Marshal(keywords)
	if err != nil {
		return store.IntelligenceRule{}, fmt.Errorf("encode keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intelligence_rules (id, company_id, rule_type, applies_to_field, input_keywords,
		     priority, output_value, output_reference_id, parse_with_function, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		rule.ID.String(), rule.CompanyID.String(), string(rule.RuleType), rule.AppliesToField,
		string(encoded), rule.Priority, rule.OutputValue, nullUUID(rule.OutputReferenceID),
		rule.ParseWithFunction, formatTime(rule.CreatedAt))
	if err != nil {
		return store.IntelligenceRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// ----------------------------------------------------------------------------
// Inventory
// ----------------------------------------------------------------------------

func (s *Store) ExistingSerials(ctx context.Context, company uuid.UUID, serials []string) ([]string, error) {
	var out []string
	for start := 0; start < len(serials); start += maxParams {
		end := min(start+maxParams, len(serials))
		chunk := serials[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, company.String())
		for _, sn := range chunk {
			args = append(args, sn)
		}
		query := `SELECT serial_number FROM line_items WHERE company_id = ? AND serial_number IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `) ORDER BY serial_number`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("existing serials: %w", err)
		}
		for rows.Next() {
			var sn string
			if err := rows.Scan(&sn); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan serial: %w", err)
			}
			out = append(out, sn)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("existing serials: %w", err)
		}
	}
	return out, nil
}

const insertLineItemSQL = `INSERT INTO line_items (id, company_id, import_id, serial_number, brand, model,
    product_type, product_type_id, cpu, ram, storage, condition, supplier, supplier_id,
    location, location_id, notes, quantity, unit_cost, original_cost, exchange_rate,
    components, created_at)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertLineItems writes every item in one transaction. A serial that is
// already taken rolls back the whole batch with store.ErrConflict.
func (s *Store) InsertLineItems(ctx context.Context, items []store.LineItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertLineItemSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, it := range items {
		it = store.PrepareLineItem(it, now)
		components := []byte("[]")
		if it.Components != nil {
			if components, err = json.Marshal(it.Components); err != nil {
				return fmt.Errorf("encode components: %w", err)
			}
		}
		_, err := stmt.ExecContext(ctx,
			it.ID.String(), it.CompanyID.String(), it.ImportID.String(), it.SerialNumber, it.Brand,
			it.Model, it.ProductType, nullUUID(it.ProductTypeID), it.CPU, it.RAM, it.Storage,
			it.Condition, it.Supplier, nullUUID(it.SupplierID), it.Location, nullUUID(it.LocationID),
			it.Notes, it.Quantity, it.UnitCost.StringFixed(2), it.OriginalCost.String(),
			it.ExchangeRate.String(), string(components), formatTime(it.CreatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("serial %q: %w", it.SerialNumber, store.ErrConflict)
			}
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) BackfillLineItem(ctx context.Context, company uuid.UUID, serial string, values map[string]string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		id string
		li store.LineItem
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, model, cpu, ram, storage, condition, notes FROM line_items
		 WHERE company_id = ? AND serial_number = ?`,
		company.String(), serial).Scan(&id, &li.Model, &li.CPU, &li.RAM, &li.Storage, &li.Condition, &li.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load line item: %w", err)
	}

	changed := li.Backfill(values)
	if len(changed) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE line_items SET model = ?, cpu = ?, ram = ?, storage = ?, condition = ?, notes = ?
		 WHERE id = ?`,
		li.Model, li.CPU, li.RAM, li.Storage, li.Condition, li.Notes, id)
	if err != nil {
		return nil, fmt.Errorf("backfill line item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (store.Entity, error) {
	var (
		id, company, kind, createdAt string
		e                            store.Entity
	)
	if err := row.Scan(&id, &company, &kind, &e.Name, &e.Active, &createdAt); err != nil {
		return store.Entity{}, err
	}
	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return store.Entity{}, err
	}
	if e.CompanyID, err = uuid.Parse(company); err != nil {
		return store.Entity{}, err
	}
	e.Kind = catalog.EntityKind(kind)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueViolation(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code() == constraintUnique {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
