package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kamal2602/thinkhub-sub001/internal/mapping"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/sheet"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// StartImport decodes an uploaded file and opens a receiving session. A file
// that cannot be decoded returns a *ParseError and no session is created. A
// workbook with several non-empty sheets waits in StateChooseSheet; otherwise
// the session starts in StateMap with suggested column mappings.
func (s *Service) StartImport(ctx context.Context, company uuid.UUID, fileName string, data []byte) (Session, error) {
	return s.start(ctx, company, KindImport, fileName, data)
}

// StartAppend opens a backfill session for line items already received. It
// behaves like StartImport but lands in StateAppend.
func (s *Service) StartAppend(ctx context.Context, company uuid.UUID, fileName string, data []byte) (Session, error) {
	return s.start(ctx, company, KindAppend, fileName, data)
}

func (s *Service) start(ctx context.Context, company uuid.UUID, kind Kind, fileName string, data []byte) (Session, error) {
	if company == uuid.Nil {
		return Session{}, ValidationError{Field: "company", Message: "company id is required"}
	}

	wb, err := sheet.Decode(fileName, data)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	ss := &session{
		id:         uuid.New(),
		company:    company,
		kind:       kind,
		fileName:   fileName,
		sheetNames: wb.Names(),
		createdAt:  now,
		updatedAt:  now,
	}

	if len(wb.Sheets) > 1 {
		ss.workbook = wb
		ss.state = StateChooseSheet
	} else if err := s.loadSheet(ctx, ss, wb.Sheets[0]); err != nil {
		return Session{}, err
	}

	s.register(ss)
	s.logger(ctx, ss).Info("import session started",
		"file", fileName,
		"sheets", len(wb.Sheets),
		"state", ss.state,
	)
	return ss.snapshot(), nil
}

// loadSheet makes ps the session's sheet and proposes column mappings from
// the company's column rules.
func (s *Service) loadSheet(ctx context.Context, ss *session, ps sheet.ParsedSheet) error {
	persisted, err := s.store.ListRules(ctx, ss.company, store.RuleColumnMapping, "")
	if err != nil {
		return fmt.Errorf("load column rules: %w", err)
	}

	ss.sheet = ps
	ss.workbook = nil
	ss.mappings = mapping.SuggestAll(ps.Headers, mapping.RulesFromIntelligence(persisted), s.opts.MappingThreshold, ps.Samples(s.opts.SampleValues))
	if ss.kind == KindAppend {
		ss.state = StateAppend
	} else {
		ss.state = StateMap
	}
	return nil
}

// ChooseSheet picks the sheet of a multi-sheet workbook to import.
func (s *Service) ChooseSheet(ctx context.Context, id uuid.UUID, name string) (Session, error) {
	var out Session
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StateChooseSheet {
			return stateError(ss.state, StateChooseSheet)
		}
		ps, ok := ss.workbook.Sheet(name)
		if !ok {
			return ValidationError{
				Field:   "sheet",
				Value:   name,
				Message: "sheet not found",
				Hint:    "choose one of: " + strings.Join(ss.sheetNames, ", "),
			}
		}
		if err := s.loadSheet(ctx, ss, ps); err != nil {
			return err
		}
		s.logger(ctx, ss).Info("sheet chosen", "sheet", name, "rows", len(ps.Rows))
		out = ss.snapshot()
		return nil
	})
	return out, err
}

// UpdateMapping maps column to field, or unmaps it when field is empty. Two
// columns mapped to one field are flagged on the snapshot, never rejected.
func (s *Service) UpdateMapping(ctx context.Context, id uuid.UUID, column, field string) (Session, error) {
	var out Session
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StateMap && ss.state != StateAppend {
			return stateError(ss.state, StateMap, StateAppend)
		}
		if field != "" {
			if _, ok := s.fields.Get(field); !ok {
				return ValidationError{Field: field, Message: "unknown field", Hint: "pick a field from the catalog"}
			}
		}

		idx := -1
		for i, m := range ss.mappings {
			if m.SupplierColumn == column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ValidationError{Field: "column", Value: column, Message: "column not found in sheet"}
		}

		m := &ss.mappings[idx]
		m.SystemField = field
		m.MatchedKeyword = ""
		m.Confidence = 0
		if field != "" {
			m.Confidence = 1
		}
		mapping.MarkDuplicates(ss.mappings)

		s.logger(ctx, ss).Debug("column mapping updated", "column", column, "field", field)
		out = ss.snapshot()
		return nil
	})
	return out, err
}

// ConfirmMappings closes the map step. With learn set, every mapping that was
// not an exact keyword hit is saved as a column rule so the same header maps
// on its own next time; a failed rule write is reported, not fatal.
//
// It then takes the normalize snapshot: every mapped, normalizable field is
// run through the resolver. If nothing needs review the session goes straight
// to StatePreview.
func (s *Service) ConfirmMappings(ctx context.Context, id uuid.UUID, learn bool) (Session, error) {
	var out Session
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StateMap {
			return stateError(ss.state, StateMap)
		}
		log := s.logger(ctx, ss)

		if learn {
			learned := 0
			for _, m := range ss.mappings {
				if !m.Mapped() || (m.Confidence >= 1 && m.MatchedKeyword != "") {
					continue
				}
				rule := mapping.LearnedRule(m.SupplierColumn, m.SystemField)
				rule.CompanyID = ss.company
				if _, err := s.store.CreateRule(ctx, rule); err != nil {
					ss.failures = append(ss.failures, &PersistenceError{Item: fmt.Sprintf("column rule %q", m.SupplierColumn), Err: err})
					continue
				}
				learned++
			}
			log.Info("column mappings learned", "rules", learned)
		}

		cols := ss.columns()
		ss.groups = nil
		ss.auto = nil
		ss.resolved = nil
		for _, f := range s.fields.Fields() {
			if !f.Normalizable() || len(cols[f.FieldName]) == 0 {
				continue
			}
			res, err := s.resolver.Resolve(ctx, ss.company, f.FieldName, ss.fieldValues(cols[f.FieldName]))
			if err != nil {
				return fmt.Errorf("resolve %s: %w", f.FieldName, err)
			}
			ss.record(res.Auto)
			ss.auto = append(ss.auto, res.Auto...)
			ss.groups = append(ss.groups, res.Groups...)
			ss.failures = append(ss.failures, res.Failures...)
		}

		if len(ss.groups) > 0 {
			ss.state = StateNormalize
		} else {
			ss.state = StatePreview
		}
		log.Info("normalize snapshot taken",
			"auto_resolved", len(ss.auto),
			"groups", len(ss.groups),
			"failures", len(ss.failures),
			"state", ss.state,
		)
		out = ss.snapshot()
		return nil
	})
	return out, err
}

// Groups returns the entity groups still awaiting a decision.
func (s *Service) Groups(_ context.Context, id uuid.UUID) ([]normalize.EntityGroup, error) {
	var out []normalize.EntityGroup
	err := s.withSession(id, func(ss *session) error {
		out = make([]normalize.EntityGroup, len(ss.groups))
		copy(out, ss.groups)
		return nil
	})
	return out, err
}

// SubmitDecisions applies a batch of reviewer decisions. A decision names the
// values it covers by original spelling or by normalized value; either way the
// whole variant is decided. Unknown values reject the batch before anything
// is written.
//
// Decisions are applied concurrently. One failing decision does not stop the
// others: the batch settles, successes are kept, and failures are listed in
// the report. When no group is left the session moves to StatePreview.
func (s *Service) SubmitDecisions(ctx context.Context, id uuid.UUID, decisions []normalize.Decision) (BatchReport, error) {
	var report BatchReport
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StateNormalize {
			return stateError(ss.state, StateNormalize)
		}

		expanded, err := ss.expandDecisions(decisions)
		if err != nil {
			return err
		}

		results := make([]normalize.ApplyResult, len(expanded))
		errs := make([]error, len(expanded))

		var g errgroup.Group
		g.SetLimit(s.opts.Concurrency)
		n := s.resolver.Normalizer()
		for i, d := range expanded {
			g.Go(func() error {
				results[i], errs[i] = n.ApplyDecision(ctx, ss.company, d)
				return nil
			})
		}
		_ = g.Wait()

		for i, d := range expanded {
			if errs[i] != nil {
				report.Failures = append(report.Failures, &PersistenceError{
					Item: fmt.Sprintf("%s decision for %s", d.Field, strings.Join(d.Variants, ", ")),
					Err:  errs[i],
				})
				continue
			}
			report.Applied++
			ss.record(results[i].Mappings)
			report.Mappings = append(report.Mappings, results[i].Mappings...)
			report.Failures = append(report.Failures, results[i].Failures...)
		}

		ss.dropResolved()
		ss.failures = append(ss.failures, report.Failures...)
		if len(ss.groups) == 0 {
			ss.state = StatePreview
		}
		report.Pending = len(ss.groups)
		report.State = ss.state

		s.logger(ctx, ss).Info("decision batch applied",
			"decisions", len(expanded),
			"applied", report.Applied,
			"failures", len(report.Failures),
			"pending", report.Pending,
			"state", ss.state,
		)
		return nil
	})
	return report, err
}

// expandDecisions resolves each decision's values to the full original
// spellings of the pending variants they name.
func (ss *session) expandDecisions(decisions []normalize.Decision) ([]normalize.Decision, error) {
	if len(decisions) == 0 {
		return nil, ValidationError{Field: "decisions", Message: "no decisions submitted"}
	}

	claimed := make(map[string]bool)
	out := make([]normalize.Decision, 0, len(decisions))
	for _, d := range decisions {
		if len(d.Variants) == 0 {
			return nil, ValidationError{Field: d.Field, Message: "decision lists no values"}
		}

		values := make(map[string]bool)
		for _, raw := range d.Variants {
			v, ok := ss.findVariant(d.Field, raw)
			if !ok {
				return nil, ValidationError{
					Field:   d.Field,
					Value:   raw,
					Message: "value is not pending review",
					Hint:    "refresh the groups and resubmit",
				}
			}
			key := d.Field + "\x00" + v.NormalizedValue
			if claimed[key] && !values[v.OriginalValues[0]] {
				return nil, ValidationError{Field: d.Field, Value: raw, Message: "value is decided twice in one batch"}
			}
			claimed[key] = true
			for _, o := range v.OriginalValues {
				values[o] = true
			}
		}

		d.Variants = sortedKeys(values)
		out = append(out, d)
	}
	return out, nil
}

func (ss *session) findVariant(field, value string) (normalize.EntityVariant, bool) {
	var byNormalized *normalize.EntityVariant
	for gi := range ss.groups {
		g := &ss.groups[gi]
		if g.Field != field {
			continue
		}
		for vi := range g.Variants {
			v := &g.Variants[vi]
			i := sort.SearchStrings(v.OriginalValues, value)
			if i < len(v.OriginalValues) && v.OriginalValues[i] == value {
				return *v, true
			}
			if byNormalized == nil && v.NormalizedValue == value {
				byNormalized = v
			}
		}
	}
	if byNormalized != nil {
		return *byNormalized, true
	}
	return normalize.EntityVariant{}, false
}
