package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
// The UTF-8 BOM is 0xEF 0xBB 0xBF and is commonly added by Windows programs.
type BOMSkippingReader struct {
	reader     io.Reader
	bomChecked bool
	buf        [3]byte
	pending    []byte
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		n, err := io.ReadFull(r.reader, r.buf[:])
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if !(n == 3 && bytes.Equal(r.buf[:], bom)) {
			r.pending = r.buf[:n]
		}
		if len(r.pending) == 0 && err != nil {
			return 0, err
		}
	}

	if len(r.pending) > 0 {
		copied := copy(p, r.pending)
		r.pending = r.pending[copied:]
		return copied, nil
	}

	return r.reader.Read(p)
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// newTextReader wraps data so it reads as BOM-free UTF-8. Input that is not
// valid UTF-8 is assumed to be a Windows-1252 export, which is what Excel
// writes for "CSV" on most Western locales.
func newTextReader(data []byte) io.Reader {
	var r io.Reader = NewBOMSkippingReader(bytes.NewReader(data))
	if !utf8.Valid(data) {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}
	return r
}

// sniffDelimiter picks ',', ';' or tab by counting each in the first
// non-blank line, outside quotes.
func sniffDelimiter(data []byte) rune {
	var line []byte
	for _, l := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			line = l
			break
		}
	}

	counts := map[rune]int{}
	inQuotes := false
	for _, b := range string(line) {
		switch {
		case b == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case b == ',' || b == ';' || b == '\t':
			counts[b]++
		}
	}

	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

func decodeCSV(fileName string, data []byte) (*Workbook, error) {
	text, err := io.ReadAll(newTextReader(data))
	if err != nil {
		return nil, &ParseError{File: fileName, Reason: "cannot read text", Err: err}
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = sniffDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &ParseError{File: fileName, Reason: "malformed CSV", Err: err}
	}

	wb := &Workbook{FileName: fileName}
	wb.add(build(sheetName(fileName), records))
	return wb, nil
}

func sheetName(fileName string) string {
	base := fileName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		return "Sheet1"
	}
	return base
}
