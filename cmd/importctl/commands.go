package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kamal2602/thinkhub-sub001/internal/catalog"
	"github.com/kamal2602/thinkhub-sub001/internal/mapping"
	"github.com/kamal2602/thinkhub-sub001/internal/normalize"
	"github.com/kamal2602/thinkhub-sub001/internal/sheet"
	"github.com/kamal2602/thinkhub-sub001/internal/specparse"
)

func newParseSpecCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-spec TEXT...",
		Short: "Split RAM or storage spec strings into components",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type result struct {
				Input      string                `json:"input"`
				Components []specparse.Component `json:"components"`
			}
			results := make([]result, 0, len(args))
			for _, text := range args {
				results = append(results, result{Input: text, Components: specparse.Expand(text)})
			}

			if root.output == "json" {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INPUT\tCAPACITY\tKIND\tTECHNOLOGY")
			for _, r := range results {
				for _, c := range r.Components {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Input, c.Capacity, c.Kind, c.Technology)
				}
			}
			return tw.Flush()
		},
	}
}

type fileOptions struct {
	sheet     string
	threshold float64
	samples   int
}

func (o *fileOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.sheet, "sheet", "", "Sheet to read (default: first sheet)")
	cmd.Flags().Float64Var(&o.threshold, "threshold", mapping.DefaultThreshold, "Minimum confidence for a suggested mapping")
	cmd.Flags().IntVar(&o.samples, "samples", 5, "Sample values per column")
}

// load decodes path and returns the chosen sheet with its suggested mappings,
// using only the catalog's seed keywords.
func (o *fileOptions) load(path string) (sheet.ParsedSheet, []mapping.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sheet.ParsedSheet{}, nil, withCode(exitUsage, err)
	}
	wb, err := sheet.Decode(filepath.Base(path), data)
	if err != nil {
		return sheet.ParsedSheet{}, nil, err
	}

	name := o.sheet
	if name == "" {
		name = wb.Names()[0]
	}
	ps, ok := wb.Sheet(name)
	if !ok {
		return sheet.ParsedSheet{}, nil, withCode(exitUsage, fmt.Errorf("sheet not found: %q (have %s)", name, strings.Join(wb.Names(), ", ")))
	}
	slog.Info("sheet loaded", "file", path, "sheet", ps.Name, "rows", len(ps.Rows), "columns", len(ps.Headers))

	rules := mapping.SeedRules(catalog.Default())
	return ps, mapping.SuggestAll(ps.Headers, rules, o.threshold, ps.Samples(o.samples)), nil
}

func newSuggestCmd(root *rootOptions) *cobra.Command {
	opts := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "suggest FILE",
		Short: "Suggest canonical fields for every column of a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mappings, err := opts.load(args[0])
			if err != nil {
				return err
			}

			if root.output == "json" {
				return writeJSON(cmd.OutOrStdout(), mappings)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tFIELD\tCONFIDENCE\tKEYWORD\tSAMPLES")
			for _, m := range mappings {
				field := m.SystemField
				if field == "" {
					field = "-"
				} else if m.Duplicate {
					field += " (duplicate)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", m.SupplierColumn, field, m.Confidence, m.MatchedKeyword, strings.Join(m.SampleValues, " | "))
			}
			return tw.Flush()
		},
	}
	opts.bind(cmd)
	return cmd
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &fileOptions{}
	var field, column string

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Group the distinct values of one field the way a review would present them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := catalog.Default().Get(field)
			if !ok {
				return withCode(exitUsage, fmt.Errorf("unknown field: %q", field))
			}

			ps, mappings, err := opts.load(args[0])
			if err != nil {
				return err
			}

			col := -1
			for i, m := range mappings {
				if (column != "" && m.SupplierColumn == column) || (column == "" && m.SystemField == f.FieldName) {
					col = i
					break
				}
			}
			if col < 0 {
				return withCode(exitUsage, fmt.Errorf("no column maps to %s, pass --column", f.FieldName))
			}

			groups := normalize.Analyze(f, ps.Column(col))
			if root.output == "json" {
				return writeJSON(cmd.OutOrStdout(), groups)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SUGGESTED\tNORMALIZED\tROWS\tORIGINALS")
			for _, g := range groups {
				for _, v := range g.Variants {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.SuggestedCanonical, v.NormalizedValue, v.Count, strings.Join(v.OriginalValues, " | "))
				}
			}
			return tw.Flush()
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&field, "field", "", "Canonical field to analyze (required)")
	cmd.Flags().StringVar(&column, "column", "", "Column to read (default: the column suggested for --field)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
