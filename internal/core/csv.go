package core

// csv.go turns uploaded bytes into header-keyed records.
//
// Shelter spreadsheets arrive from Excel, Google Sheets and Numbers. Excel on
// Windows still saves "CSV" as Windows-1252, so input that is not valid UTF-8
// is decoded as Windows-1252 instead of being mangled into U+FFFD.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrEmptyFile is returned for uploads with no bytes or only whitespace.
	ErrEmptyFile = errors.New("empty file")

	// ErrInvalidCSV wraps tokenizer failures.
	ErrInvalidCSV = errors.New("invalid csv")

	// ErrNoDataRows is returned when the header is the only non-blank line.
	ErrNoDataRows = errors.New("no data rows after header")
)

// utf8BOM is stripped from the first header cell.
const utf8BOM = "\uFEFF"

// HeaderIndex maps exact (case-sensitive) column names to their position.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// When a name repeats, the first occurrence wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := CleanCell(h)
		if i == 0 {
			key = strings.TrimPrefix(key, utf8BOM)
		}
		if _, dup := idx[key]; dup || key == "" {
			continue
		}
		idx[key] = i
	}
	return idx
}

// Has reports whether the header contains the column.
func (h HeaderIndex) Has(col string) bool {
	_, ok := h[col]
	return ok
}

// Cell returns the cleaned value for col, or "" when the column is absent or
// the row is short.
func (h HeaderIndex) Cell(row []string, col string) string {
	pos, ok := h[col]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// decodeInput returns data as UTF-8. Valid UTF-8 passes through untouched;
// anything else is treated as Windows-1252.
func decodeInput(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return sanitizeUTF8(data)
	}
	return decoded
}

// sanitizeUTF8 replaces invalid bytes with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

// parseCSV tokenizes data into a header index and the non-blank data rows.
// Rows keep their 1-based file line number for error messages.
func parseCSV(data []byte) (HeaderIndex, []csvRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, ErrEmptyFile
	}

	r := csv.NewReader(bytes.NewReader(decodeInput(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	headerRec, err := r.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}

	header := MakeHeaderIndex(headerRec)
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("%w: header row has no column names", ErrInvalidCSV)
	}

	var rows []csvRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		if isEmptyRow(rec) {
			continue
		}
		// The reader skips blank lines, so ask it where the record began
		line, _ := r.FieldPos(0)
		rows = append(rows, csvRow{line: line, cells: rec})
	}
	if len(rows) == 0 {
		return nil, nil, ErrNoDataRows
	}

	return header, rows, nil
}

type csvRow struct {
	line  int
	cells []string
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
