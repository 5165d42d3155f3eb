// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// DBTX is the subset of pgx used by the store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PoolConfig tunes the connection pool. Zero values keep the pgx defaults.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a store.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to url, verifies the connection and applies the schema.
func Open(ctx context.Context, url string, pc PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = int32(pc.MaxConns)
	}
	if pc.MinConns > 0 {
		cfg.MinConns = int32(pc.MinConns)
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ----------------------------------------------------------------------------
// Entities
// ----------------------------------------------------------------------------

const entityColumns = `id, company_id, kind, name, active, created_at`

func (s *Store) ListActiveEntities(ctx context.Context, company uuid.UUID, kind catalog.EntityKind) ([]store.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE company_id = $1 AND kind = $2 AND active
		 ORDER BY created_at, name`,
		pgUUID(company), string(kind))
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
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE company_id = $1 AND id = $2`,
		pgUUID(company), pgUUID(id))
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entity{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (s *Store) FindOrCreateEntity(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, name string) (store.Entity, bool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, company_id, kind, name, active, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5)
		 ON CONFLICT (company_id, kind, name) DO NOTHING
		 RETURNING `+entityColumns,
		pgUUID(uuid.New()), pgUUID(company), string(kind), name, s.now())
	e, err := scanEntity(row)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return store.Entity{}, false, fmt.Errorf("create entity: %w", err)
	}

	row = s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities
		 WHERE company_id = $1 AND kind = $2 AND name = $3`,
		pgUUID(company), string(kind), name)
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
	row := s.pool.QueryRow(ctx,
		`SELECT e.id, e.company_id, e.kind, e.name, e.active, e.created_at
		 FROM entity_aliases a JOIN entities e ON e.id = a.entity_id
		 WHERE a.company_id = $1 AND a.kind = $2 AND a.alias_key = $3`,
		pgUUID(company), string(kind), store.AliasKey(alias))
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entity{}, store.ErrNotFound
	}
	if err != nil {
		return store.Entity{}, fmt.Errorf("find alias: %w", err)
	}
	return e, nil
}

func (s *Store) AddAlias(ctx context.Context, company uuid.UUID, kind catalog.EntityKind, entityID uuid.UUID, alias string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 AND company_id = $2 AND kind = $3)`,
		pgUUID(entityID), pgUUID(company), string(kind)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check alias entity: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}

	key := store.AliasKey(alias)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO entity_aliases (company_id, kind, alias_key, alias, entity_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (company_id, kind, alias_key) DO NOTHING`,
		pgUUID(company), string(kind), key, alias, pgUUID(entityID))
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var owner pgtype.UUID
	err = s.pool.QueryRow(ctx,
		`SELECT entity_id FROM entity_aliases WHERE company_id = $1 AND kind = $2 AND alias_key = $3`,
		pgUUID(company), string(kind), key).Scan(&owner)
	if err != nil {
		return fmt.Errorf("read alias owner: %w", err)
	}
	if uuid.UUID(owner.Bytes) == entityID {
		return nil
	}
	return fmt.Errorf("alias %q: %w", alias, store.ErrConflict)
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

func (s *Store) ListRules(ctx context.Context, company uuid.UUID, ruleType store.RuleType, field string) ([]store.IntelligenceRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, rule_type, applies_to_field, input_keywords, priority,
		        output_value, output_reference_id, parse_with_function, active, created_at
		 FROM intelligence_rules
		 WHERE company_id = $1 AND rule_type = $2 AND active
		   AND ($3 = '' OR applies_to_field = $3)
		 ORDER BY seq`,
		pgUUID(company), string(ruleType), field)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []store.IntelligenceRule
	for rows.Next() {
		var (
			id, companyID, ref pgtype.UUID
			rt                 string
			createdAt          pgtype.Timestamptz
			r                  store.IntelligenceRule
		)
		if err := rows.Scan(&id, &companyID, &rt, &r.AppliesToField, &r.InputKeywords, &r.Priority,
			&r.OutputValue, &ref, &r.ParseWithFunction, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.ID = uuid.UUID(id.Bytes)
		r.CompanyID = uuid.UUID(companyID.Bytes)
		r.RuleType = store.RuleType(rt)
		r.OutputReferenceID = fromPgUUID(ref)
		r.CreatedAt = createdAt.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, rule store.IntelligenceRule) (store.IntelligenceRule, error) {
	rule = store.PrepareRule(rule, s.now())
	keywords := rule.InputKeywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intelligence_rules (id, company_id, rule_type, applies_to_field, input_keywords,
		     priority, output_value, output_reference_id, parse_with_function, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pgUUID(rule.ID), pgUUID(rule.CompanyID), string(rule.RuleType), rule.AppliesToField, keywords,
		rule.Priority, rule.OutputValue, toPgUUID(rule.OutputReferenceID), rule.ParseWithFunction,
		rule.Active, rule.CreatedAt)
	if err != nil {
		return store.IntelligenceRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// ----------------------------------------------------------------------------
// Inventory
// ----------------------------------------------------------------------------

func (s *Store) ExistingSerials(ctx context.Context, company uuid.UUID, serials []string) ([]string, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT serial_number FROM line_items
		 WHERE company_id = $1 AND serial_number = ANY($2)
		 ORDER BY serial_number`,
		pgUUID(company), serials)
	if err != nil {
		return nil, fmt.Errorf("existing serials: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sn string
		if err := rows.Scan(&sn); err != nil {
			return nil, fmt.Errorf("scan serial: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// InsertLineItems writes every item in one transaction. A serial that is
// already taken rolls back the whole batch with store.ErrConflict.
func (s *Store) InsertLineItems(ctx context.Context, items []store.LineItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	for _, it := range items {
		it = store.PrepareLineItem(it, now)
		if err := insertLineItem(ctx, tx, it); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("serial %q: %w", it.SerialNumber, store.ErrConflict)
			}
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertLineItem(ctx context.Context, db DBTX, it store.LineItem) error {
	components, err := json.Marshal(it.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	if it.Components == nil {
		components = []byte("[]")
	}
	_, err = db.Exec(ctx,
		`INSERT INTO line_items (id, company_id, import_id, serial_number, brand, model,
		     product_type, product_type_id, cpu, ram, storage, condition, supplier, supplier_id,
		     location, location_id, notes, quantity, unit_cost, original_cost, exchange_rate,
		     components, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		     $19::numeric, $20::numeric, $21::numeric, $22::jsonb, $23)`,
		pgUUID(it.ID), pgUUID(it.CompanyID), pgUUID(it.ImportID), it.SerialNumber, it.Brand, it.Model,
		it.ProductType, toPgUUID(it.ProductTypeID), it.CPU, it.RAM, it.Storage, it.Condition,
		it.Supplier, toPgUUID(it.SupplierID), it.Location, toPgUUID(it.LocationID), it.Notes,
		it.Quantity, it.UnitCost.String(), it.OriginalCost.String(), it.ExchangeRate.String(),
		string(components), it.CreatedAt)
	return err
}

// BackfillLineItem locks the line item row, fills its blank backfill columns
// and writes them back.
func (s *Store) BackfillLineItem(ctx context.Context, company uuid.UUID, serial string, values map[string]string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		id pgtype.UUID
		li store.LineItem
	)
	err = tx.QueryRow(ctx,
		`SELECT id, model, cpu, ram, storage, condition, notes FROM line_items
		 WHERE company_id = $1 AND serial_number = $2
		 FOR UPDATE`,
		pgUUID(company), serial).Scan(&id, &li.Model, &li.CPU, &li.RAM, &li.Storage, &li.Condition, &li.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load line item: %w", err)
	}

	changed := li.Backfill(values)
	if len(changed) == 0 {
		return nil, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE line_items SET model = $2, cpu = $3, ram = $4, storage = $5, condition = $6, notes = $7
		 WHERE id = $1`,
		id, li.Model, li.CPU, li.RAM, li.Storage, li.Condition, li.Notes)
	if err != nil {
		return nil, fmt.Errorf("backfill line item: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func scanEntity(row pgx.Row) (store.Entity, error) {
	var (
		id, company pgtype.UUID
		kind        string
		createdAt   pgtype.Timestamptz
		e           store.Entity
	)
	if err := row.Scan(&id, &company, &kind, &e.Name, &e.Active, &createdAt); err != nil {
		return store.Entity{}, err
	}
	e.ID = uuid.UUID(id.Bytes)
	e.CompanyID = uuid.UUID(company.Bytes)
	e.Kind = catalog.EntityKind(kind)
	e.CreatedAt = createdAt.Time
	return e, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func toPgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgUUID(*id)
}

func fromPgUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
