package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/money"
	"github.com/kamal2602/thinkhub-sub001/internal/specparse"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
)

// Sample limits
const (
	maxPreviewItems    = 20
	maxExcludedSamples = 50
)

// plan is the set of line items a commit would write.
type plan struct {
	rate     decimal.Decimal
	items    []store.LineItem
	excluded []ExcludedRow
	inFile   []DuplicateSerial
	existing []string
	total    decimal.Decimal
}

// conflicts returns every serial that blocks the commit, sorted.
func (p *plan) conflicts() []string {
	set := make(map[string]bool)
	for _, s := range p.existing {
		set[s] = true
	}
	for _, d := range p.inFile {
		set[d.Serial] = true
	}
	return sortedKeys(set)
}

// materialize turns the session's rows into line items. It fails on missing
// required mappings and on a bad exchange rate; bad rows are excluded and
// reported instead.
func (s *Service) materialize(ctx context.Context, ss *session, opts CommitOptions) (*plan, error) {
	cols := ss.columns()
	for _, f := range s.fields.Required() {
		if len(cols[f]) == 0 {
			return nil, missingMapping(f)
		}
	}

	rate, err := money.ParseRate(opts.ExchangeRate)
	if err != nil {
		return nil, ValidationError{
			Field:   "exchange_rate",
			Value:   opts.ExchangeRate,
			Message: money.ErrRate.Error(),
			Hint:    "enter a positive rate, or leave it blank for 1",
		}
	}

	p := &plan{rate: rate, total: decimal.Zero}
	serialRows := make(map[string][]int)
	var serialOrder []string

	for r := range ss.sheet.Rows {
		get := func(field string) (string, *uuid.UUID) {
			return ss.resolve(field, ss.cell(r, cols[field]))
		}

		brand, _ := get(catalog.Brand)
		rawCost, _ := get(catalog.UnitCost)
		amount, reasons := rowIssues(brand, rawCost)

		rawQty, _ := get(catalog.Quantity)
		qty, err := parseQuantity(rawQty)
		if err != nil {
			reasons = append(reasons, err.Error())
		}

		serial, _ := get(catalog.SerialNumber)
		if len(reasons) > 0 {
			p.excluded = append(p.excluded, ExcludedRow{Row: r + 1, Serial: serial, Reasons: reasons})
			continue
		}

		cost, err := money.Convert(amount, rate)
		if err != nil {
			return nil, err
		}

		item := store.LineItem{
			CompanyID:    ss.company,
			ImportID:     ss.id,
			SerialNumber: serial,
			Brand:        brand,
			Quantity:     qty,
			UnitCost:     cost,
			OriginalCost: amount,
			ExchangeRate: rate,
		}
		item.Model, _ = get(catalog.Model)
		item.ProductType, item.ProductTypeID = get(catalog.ProductType)
		item.CPU, _ = get(catalog.CPU)
		item.RAM, _ = get(catalog.RAM)
		item.Storage, _ = get(catalog.Storage)
		item.Condition, _ = get(catalog.Condition)
		item.Supplier, item.SupplierID = get(catalog.Supplier)
		item.Location, item.LocationID = get(catalog.Location)
		item.Notes, _ = get(catalog.Notes)
		for _, spec := range []string{item.RAM, item.Storage} {
			if spec != "" {
				item.Components = append(item.Components, specparse.Expand(spec)...)
			}
		}

		if serial != "" {
			if _, seen := serialRows[serial]; !seen {
				serialOrder = append(serialOrder, serial)
			}
			serialRows[serial] = append(serialRows[serial], r+1)
		}
		p.total = p.total.Add(cost.Mul(decimal.NewFromInt(int64(qty))))
		p.items = append(p.items, item)
	}

	for _, serial := range serialOrder {
		if rows := serialRows[serial]; len(rows) > 1 {
			p.inFile = append(p.inFile, DuplicateSerial{Serial: serial, Rows: rows})
		}
	}

	if len(serialOrder) > 0 {
		existing, err := s.store.ExistingSerials(ctx, ss.company, serialOrder)
		if err != nil {
			return nil, fmt.Errorf("check existing serials: %w", err)
		}
		sort.Strings(existing)
		p.existing = existing
	}
	return p, nil
}

// Preview reports what Commit would write with opts, without writing it.
// Duplicate serials and an empty result are reported here rather than
// returned as errors; Commit is where they block.
func (s *Service) Preview(ctx context.Context, id uuid.UUID, opts CommitOptions) (Preview, error) {
	var out Preview
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StatePreview {
			return stateError(ss.state, StatePreview)
		}
		start := time.Now()

		p, err := s.materialize(ctx, ss, opts)
		if err != nil {
			return err
		}

		out = Preview{
			TotalRows:       len(ss.sheet.Rows),
			ValidRows:       len(p.items),
			ExcludedRows:    len(p.excluded),
			ExchangeRate:    p.rate,
			TotalCost:       p.total,
			Items:           p.items,
			Excluded:        p.excluded,
			ExistingSerials: p.existing,
			DuplicateInFile: p.inFile,
			CanCommit:       len(p.items) > 0 && len(p.existing) == 0 && len(p.inFile) == 0,
		}
		if len(out.Items) > maxPreviewItems {
			out.Items = out.Items[:maxPreviewItems]
		}
		if len(out.Excluded) > maxExcludedSamples {
			out.Excluded = out.Excluded[:maxExcludedSamples]
		}
		out.ProcessingTimeMs = time.Since(start).Milliseconds()
		return nil
	})
	return out, err
}

// Commit writes the session's line items in one transaction. Any serial that
// is already in inventory, or repeated within the file, blocks the whole
// commit with a ConflictError. A commit with no qualifying rows fails with a
// ValidationError.
func (s *Service) Commit(ctx context.Context, id uuid.UUID, opts CommitOptions) (CommitResult, error) {
	var out CommitResult
	err := s.withSession(id, func(ss *session) error {
		if ss.state != StatePreview {
			return stateError(ss.state, StatePreview)
		}
		log := s.logger(ctx, ss)

		p, err := s.materialize(ctx, ss, opts)
		if err != nil {
			return err
		}
		if len(p.items) == 0 {
			return ValidationError{
				Field:   "rows",
				Message: fmt.Sprintf("no qualifying rows: %d of %d rows excluded", len(p.excluded), len(ss.sheet.Rows)),
				Hint:    "every row needs a brand and a unit cost greater than 0",
			}
		}
		if serials := p.conflicts(); len(serials) > 0 {
			log.Warn("commit blocked by duplicate serials", "count", len(serials))
			return ConflictError{Serials: serials}
		}

		if err := s.commits.Acquire(ctx); err != nil {
			return err
		}
		defer s.commits.Release()

		now := s.now()
		for i := range p.items {
			p.items[i] = store.PrepareLineItem(p.items[i], now)
		}
		if err := s.store.InsertLineItems(ctx, p.items); err != nil {
			// Another commit may have inserted the same serials since the check.
			if errors.Is(err, store.ErrConflict) {
				serials := make([]string, 0, len(p.items))
				for _, it := range p.items {
					if it.SerialNumber != "" {
						serials = append(serials, it.SerialNumber)
					}
				}
				if existing, lookupErr := s.store.ExistingSerials(ctx, ss.company, serials); lookupErr == nil && len(existing) > 0 {
					sort.Strings(existing)
					return ConflictError{Serials: existing}
				}
			}
			return fmt.Errorf("insert line items: %w", err)
		}

		ss.state = StateComplete
		ss.result = &CommitResult{
			ImportID:  ss.id,
			Inserted:  len(p.items),
			Excluded:  len(p.excluded),
			TotalCost: p.total,
		}
		out = *ss.result
		log.Info("import committed",
			"inserted", out.Inserted,
			"excluded", out.Excluded,
			"exchange_rate", p.rate.String(),
			"total_cost", p.total.String(),
		)
		return nil
	})
	return out, err
}
