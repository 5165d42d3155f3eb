package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// CommitAppend backfills received line items from an append session. Rows are
// matched by serial number; only blank columns of existing line items are
// filled. Rows for the same serial are merged in sheet order first, so the
// earliest non-blank value wins. Unknown serials are reported, not created.
func (s *Service) CommitAppend(ctx context.Context, id uuid.UUID) (AppendResult, error) {
	var out AppendResult
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StateAppend {
			return stateError(ss.state, StateAppend)
		}

		cols := ss.columns()
		if len(cols[catalog.SerialNumber]) == 0 {
			return missingMapping(catalog.SerialNumber)
		}
		var fields []string
		for _, f := range store.BackfillFields {
			if len(cols[f]) > 0 {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			return ValidationError{
				Field:   "mappings",
				Message: "no backfill column is mapped",
				Hint:    "map at least one of: " + strings.Join(store.BackfillFields, ", "),
			}
		}

		merged := make(map[string]map[string]string)
		var order []string
		for r := range ss.sheet.Rows {
			serial := ss.cell(r, cols[catalog.SerialNumber])
			if serial == "" {
				out.Skipped++
				continue
			}
			values := merged[serial]
			if values == nil {
				values = make(map[string]string)
				merged[serial] = values
				order = append(order, serial)
			}
			for _, f := range fields {
				if _, set := values[f]; set {
					continue
				}
				if v := ss.cell(r, cols[f]); v != "" {
					values[f] = v
				}
			}
		}

		changed := make([][]string, len(order))
		errs := make([]error, len(order))

		var g errgroup.Group
		g.SetLimit(s.opts.Concurrency)
		for i, serial := range order {
			g.Go(func() error {
				changed[i], errs[i] = s.store.BackfillLineItem(ctx, ss.company, serial, merged[serial])
				return nil
			})
		}
		_ = g.Wait()

		for i, serial := range order {
			switch {
			case errors.Is(errs[i], store.ErrNotFound):
				out.NotFound = append(out.NotFound, serial)
			case errs[i] != nil:
				out.Failures = append(out.Failures, &PersistenceError{Item: fmt.Sprintf("serial %q", serial), Err: errs[i]})
			case len(changed[i]) > 0:
				out.Updated++
			default:
				out.Unchanged++
			}
		}
		sort.Strings(out.NotFound)

		ss.state = StateComplete
		ss.appendResult = &out
		ss.failures = append(ss.failures, out.Failures...)

		s.logger(ctx, ss).Info("append committed",
			"updated", out.Updated,
			"unchanged", out.Unchanged,
			"not_found", len(out.NotFound),
			"skipped", out.Skipped,
			"failures", len(out.Failures),
		)
		return nil
	})
	return out, err
}
