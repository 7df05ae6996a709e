// Package tabular imports tables and computes per-column and per-table statistics.
package tabular

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

// Table is a column-major view of tabular data. Every column has one value
// per row; missing cells are empty strings.
type Table struct {
	Name    string
	Columns []RawColumn
}

// RawColumn holds the unparsed values of one column, in row order.
type RawColumn struct {
	Name   string
	Values []string
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// FromRecords builds a table from a header row and data rows. Ragged rows are
// padded with empty cells; blank or duplicate header names are made unique.
func FromRecords(name string, header []string, rows [][]string) *Table {
	width := len(header)
	for _, r := range rows {
		width = max(width, len(r))
	}

	names := uniqueNames(header, width)
	t := &Table{Name: name, Columns: make([]RawColumn, width)}
	for c := range t.Columns {
		t.Columns[c] = RawColumn{Name: names[c], Values: make([]string, len(rows))}
	}
	for r, row := range rows {
		for c := 0; c < len(row); c++ {
			t.Columns[c].Values[r] = row[c]
		}
	}
	return t
}

// uniqueNames gives every column a distinct name. Repeats of a header get the
// first free _N suffix, skipping names other headers already use.
func uniqueNames(header []string, width int) []string {
	names := make([]string, width)
	taken := make(map[string]bool, width)
	next := make(map[string]int, width)
	for i := range names {
		if i < len(header) {
			taken[strings.TrimSpace(header[i])] = true
		}
	}
	used := make(map[string]bool, width)
	for i := range names {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if used[name] {
			base := name
			n := next[base]
			if n < 2 {
				n = 2
			}
			for {
				name = fmt.Sprintf("%s_%d", base, n)
				n++
				if !used[name] && !taken[name] {
					break
				}
			}
			next[base] = n
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// DecodeText returns data as UTF-8, stripping a byte-order mark and falling
// back to Windows-1252 for legacy encodings. The second value names the
// source encoding.
func DecodeText(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�"), "unknown"
	}
	return string(decoded), "windows-1252"
}

// ReadDelimited parses delimited text whose first record is the header.
func ReadDelimited(name string, data []byte, delimiter string) (*Table, error) {
	text, _ := DecodeText(data)

	comma := ','
	if delimiter != "" {
		comma, _ = utf8.DecodeRuneInString(delimiter)
	}
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	var header []string
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse delimited text: %w", err)
		}
		if header == nil {
			header = rec
			continue
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, errors.New("delimited text has no header row")
	}
	return FromRecords(name, header, rows), nil
}
