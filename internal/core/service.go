package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/logging"
	"github.com/kamal2602/thinkhub-sub001/internal/mapping"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/sheet"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// Service runs import sessions against one store.
type Service struct {
	fields   *catalog.Catalog
	store    store.Store
	resolver *normalize.Resolver
	commits  *CommitLimiter
	opts     Options
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// session is the mutable state behind a Session snapshot. Every operation
// holds mu for its whole duration, so a session has a single writer.
type session struct {
	mu sync.Mutex

	id       uuid.UUID
	company  uuid.UUID
	kind     Kind
	fileName string
	state    State

	workbook   *sheet.Workbook
	sheetNames []string
	sheet      sheet.ParsedSheet
	mappings   []mapping.ColumnMapping

	// groups is the frozen normalize snapshot, minus what has been decided.
	groups   []normalize.EntityGroup
	resolved map[string]map[string]normalize.NormalizedMapping
	auto     []normalize.NormalizedMapping
	failures []*PersistenceError

	result       *CommitResult
	appendResult *AppendResult

	createdAt time.Time
	updatedAt time.Time
}

// NewService creates a Service. fields is the canonical field catalog.
func NewService(fields *catalog.Catalog, st store.Store, opts Options) *Service {
	opts = opts.withDefaults()
	n := normalize.New(fields, st, normalize.Options{
		SimilarityThreshold: opts.SimilarityThreshold,
		MaxMatches:          opts.MaxMatches,
	})
	return &Service{
		fields:   fields,
		store:    st,
		resolver: normalize.NewResolver(n, opts.Concurrency),
		commits:  NewCommitLimiter(opts.MaxConcurrentCommits, opts.CommitWait),
		opts:     opts,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Catalog returns the canonical field catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.fields
}

// Limiter returns the commit limiter, for status reporting and shutdown.
func (s *Service) Limiter() *CommitLimiter {
	return s.commits
}

func (s *Service) register(ss *session) {
	s.mu.Lock()
	s.sessions[ss.id] = ss
	s.mu.Unlock()
}

// withSession runs fn with the session locked.
func (s *Service) withSession(id uuid.UUID, fn func(ss *session) error) error {
	s.mu.RLock()
	ss, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.updatedAt = s.now()
	return fn(ss)
}

func (s *Service) logger(ctx context.Context, ss *session) *slog.Logger {
	args := append([]any{
		"session_id", ss.id,
		"company_id", ss.company,
		"kind", ss.kind,
	}, requestFields(ctx)...)
	return logging.WithFields(ctx, args...)
}

// Session returns a snapshot of the session.
func (s *Service) Session(_ context.Context, id uuid.UUID) (Session, error) {
	var out Session
	err := s.withSession(id, func(ss *session) error {
		out = ss.snapshot()
		return nil
	})
	return out, err
}

// Discard drops a session without committing anything.
func (s *Service) Discard(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	ss, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.logger(ctx, ss).Info("import session discarded")
	return nil
}

// Sweep drops sessions idle for longer than the session TTL and returns how
// many it removed.
func (s *Service) Sweep(now time.Time) int {
	cutoff := now.Add(-s.opts.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ss := range s.sessions {
		if !ss.mu.TryLock() {
			continue // in use, so not idle
		}
		expired := ss.updatedAt.Before(cutoff)
		ss.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper removes expired sessions every interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	slog.Info("session sweeper started", "interval", interval, "ttl", s.opts.SessionTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				slog.Info("expired import sessions removed", "count", n)
			}
		}
	}
}

// SeedColumnRules installs the catalog keywords as column_mapping rules for a
// company that has none yet. Fields already seeded are left alone, so calling
// it again is harmless. It returns how many rules were created.
func (s *Service) SeedColumnRules(ctx context.Context, company uuid.UUID) (int, error) {
	existing, err := s.store.ListRules(ctx, company, store.RuleColumnMapping, "")
	if err != nil {
		return 0, fmt.Errorf("list column rules: %w", err)
	}
	seeded := make(map[string]bool)
	for _, r := range existing {
		if r.Priority == mapping.SeedPriority {
			seeded[r.AppliesToField] = true
		}
	}

	created := 0
	for _, rule := range mapping.SeedRules(s.fields) {
		if seeded[rule.Field] || len(rule.Keywords) == 0 {
			continue
		}
		_, err := s.store.CreateRule(ctx, store.IntelligenceRule{
			CompanyID:      company,
			RuleType:       store.RuleColumnMapping,
			AppliesToField: rule.Field,
			InputKeywords:  rule.Keywords,
			Priority:       rule.Priority,
			OutputValue:    rule.Field,
			Active:         true,
		})
		if err != nil {
			return created, fmt.Errorf("seed column rule for %s: %w", rule.Field, err)
		}
		created++
	}

	logging.WithFields(ctx, "company_id", company).Info("column rules seeded", "created", created)
	return created, nil
}

func (ss *session) snapshot() Session {
	out := Session{
		ID:            ss.id,
		CompanyID:     ss.company,
		Kind:          ss.kind,
		FileName:      ss.fileName,
		State:         ss.state,
		Sheets:        ss.sheetNames,
		SheetName:     ss.sheet.Name,
		Headers:       ss.sheet.Headers,
		RowCount:      len(ss.sheet.Rows),
		PendingGroups: len(ss.groups),
		AutoResolved:  ss.auto,
		Failures:      ss.failures,
		Result:        ss.result,
		AppendResult:  ss.appendResult,
		CreatedAt:     ss.createdAt,
		UpdatedAt:     ss.updatedAt,
	}
	if ss.mappings != nil {
		out.Mappings = make([]mapping.ColumnMapping, len(ss.mappings))
		copy(out.Mappings, ss.mappings)
		out.DuplicateFields = mapping.Duplicates(ss.mappings)
	}
	return out
}

// columns returns, per mapped field, the indexes of the columns mapped to it
// in sheet order.
func (ss *session) columns() map[string][]int {
	out := make(map[string][]int)
	for i, m := range ss.mappings {
		if m.Mapped() {
			out[m.SystemField] = append(out[m.SystemField], i)
		}
	}
	return out
}

// cell returns the first non-blank value of row among cols.
func (ss *session) cell(row int, cols []int) string {
	for _, c := range cols {
		if v := ss.sheet.Cell(row, c); v != "" {
			return v
		}
	}
	return ""
}

// fieldValues returns one value per data row for field.
func (ss *session) fieldValues(cols []int) []string {
	out := make([]string, len(ss.sheet.Rows))
	for r := range ss.sheet.Rows {
		out[r] = ss.cell(r, cols)
	}
	return out
}

// resolve returns the value a raw cell commits as.
func (ss *session) resolve(field, raw string) (string, *uuid.UUID) {
	if m, ok := ss.resolved[field][raw]; ok {
		return m.ResolvedValue, m.ResolvedID
	}
	return raw, nil
}

func (ss *session) record(mappings []normalize.NormalizedMapping) {
	if ss.resolved == nil {
		ss.resolved = make(map[string]map[string]normalize.NormalizedMapping)
	}
	for _, m := range mappings {
		byValue := ss.resolved[m.Field]
		if byValue == nil {
			byValue = make(map[string]normalize.NormalizedMapping)
			ss.resolved[m.Field] = byValue
		}
		byValue[m.OriginalValue] = m
	}
}

// dropResolved removes decided variants from the pending groups. A group
// that loses some variants gets its suggestion recomputed; one that loses all
// of them is removed.
func (ss *session) dropResolved() {
	kept := ss.groups[:0]
	for _, g := range ss.groups {
		var variants []normalize.EntityVariant
		for _, v := range g.Variants {
			if !ss.variantResolved(g.Field, v) {
				variants = append(variants, v)
			}
		}
		if len(variants) == 0 {
			continue
		}
		if len(variants) != len(g.Variants) {
			g.Variants = variants
			g.SuggestedCanonical = normalize.SuggestCanonical(variants)
		}
		kept = append(kept, g)
	}
	ss.groups = kept
}

func (ss *session) variantResolved(field string, v normalize.EntityVariant) bool {
	for _, o := range v.OriginalValues {
		if _, ok := ss.resolved[field][o]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
