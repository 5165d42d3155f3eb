// Package sheet decodes uploaded supplier files (CSV or XLSX) into header/row
// tables. It owns the messy parts of real spreadsheets: byte-order marks,
// legacy Windows encodings, semicolon-delimited exports, Excel formula
// wrappers, blank rows and ragged rows.
package sheet

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// ParsedSheet is one decoded table. Every row has at most len(Headers) cells
// and no row is entirely blank.
type ParsedSheet struct {
	Name    string     `json:"name"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Cell returns the value at (row, col), or "" for a short row.
func (s ParsedSheet) Cell(row, col int) string {
	if row < 0 || row >= len(s.Rows) || col < 0 || col >= len(s.Rows[row]) {
		return ""
	}
	return s.Rows[row][col]
}

// Column returns the values of column col, one per row.
func (s ParsedSheet) Column(col int) []string {
	out := make([]string, len(s.Rows))
	for i := range s.Rows {
		out[i] = s.Cell(i, col)
	}
	return out
}

// Samples returns up to n distinct non-blank values per column, in row order.
func (s ParsedSheet) Samples(n int) [][]string {
	out := make([][]string, len(s.Headers))
	for col := range s.Headers {
		seen := make(map[string]bool)
		for row := range s.Rows {
			if len(out[col]) >= n {
				break
			}
			v := s.Cell(row, col)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out[col] = append(out[col], v)
		}
	}
	return out
}

// Workbook is every usable sheet in a file, in file order.
type Workbook struct {
	FileName string        `json:"fileName"`
	Sheets   []ParsedSheet `json:"sheets"`

	// headerOnly is set when a sheet was skipped for having a header but no
	// data rows.
	headerOnly bool
}

// add keeps s when build accepted it and remembers header-only sheets.
func (w *Workbook) add(s ParsedSheet, ok bool) {
	switch {
	case ok:
		w.Sheets = append(w.Sheets, s)
	case len(s.Headers) > 0:
		w.headerOnly = true
	}
}

// Names lists the sheet names.
func (w *Workbook) Names() []string {
	out := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		out[i] = s.Name
	}
	return out
}

// Sheet looks up a sheet by name.
func (w *Workbook) Sheet(name string) (ParsedSheet, bool) {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return ParsedSheet{}, false
}

// ParseError reports a file that cannot be turned into a table at all.
type ParseError struct {
	File   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.File, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Format is a supported input format.
type Format int

const (
	FormatCSV Format = iota
	FormatXLSX
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat picks a decoder from the file extension, falling back to the
// zip signature that every XLSX file starts with.
func DetectFormat(fileName string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xls":
		return 0, &ParseError{File: fileName, Reason: "legacy .xls workbooks are not supported, save as .xlsx or .csv"}
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX, nil
	}
	return FormatCSV, nil
}

// Decode turns an uploaded file into a workbook. A CSV yields one sheet. An
// XLSX yields every sheet that has a header row and at least one data row;
// other sheets are skipped. A file with no usable sheet is a ParseError.
func Decode(fileName string, data []byte) (*Workbook, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{File: fileName, Reason: "file is empty"}
	}

	format, err := DetectFormat(fileName, data)
	if err != nil {
		return nil, err
	}

	var wb *Workbook
	switch format {
	case FormatXLSX:
		wb, err = decodeXLSX(fileName, data)
	default:
		wb, err = decodeCSV(fileName, data)
	}
	if err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		if wb.headerOnly {
			return nil, &ParseError{File: fileName, Reason: "no data rows"}
		}
		return nil, &ParseError{File: fileName, Reason: "no header row found"}
	}
	return wb, nil
}

// build finds the header (first non-blank row), cleans every cell, drops blank
// rows and truncates rows to the header width. ok is false when there is no
// header row or no data row follows it; the headers are still returned in the
// second case.
func build(name string, records [][]string) (ParsedSheet, bool) {
	start := -1
	for i, rec := range records {
		if !blank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return ParsedSheet{}, false
	}

	header := trimTrailingBlank(cleanAll(records[start]))
	for i, h := range header {
		if h == "" {
			header[i] = fmt.Sprintf("Column %d", i+1)
		}
	}

	s := ParsedSheet{Name: name, Headers: header}
	for _, rec := range records[start+1:] {
		row := cleanAll(rec)
		if len(row) > len(header) {
			row = row[:len(header)]
		}
		if blank(row) {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s, len(s.Rows) > 0
}

func cleanAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, c := range rec {
		out[i] = CleanCell(c)
	}
	return out
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailingBlank(rec []string) []string {
	n := len(rec)
	for n > 0 && rec[n-1] == "" {
		n--
	}
	return rec[:n]
}
