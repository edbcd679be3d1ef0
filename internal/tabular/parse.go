// Package tabular turns uploaded customer files into header-indexed rows.
//
// Parsing is deliberately lenient: a double quote toggles quoted mode and is
// dropped from the value, and escaped quotes are not unescaped. Rows keep a
// 0-based index relative to the data section so that scorer output can be
// joined back onto them.
package tabular

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
)

// Source identifies the container format a table was read from.
type Source string

const (
	SourceDelimited Source = "delimited"
	SourceXLSX      Source = "xlsx"
)

// Row is one data row. Index is 0-based and excludes the header.
type Row struct {
	Index  int
	Fields []string
	line   string
}

// Table is a parsed upload: the delimiter that was detected, the normalized
// header, and the data rows.
type Table struct {
	Delimiter rune
	Headers   []string
	Rows      []Row
	Source    Source

	index map[string]int
}

// ErrEmptyDataset is the message reported for files with no data row.
const ErrEmptyDataset = "empty dataset"

// Parse decodes raw file bytes and splits them into a Table.
func Parse(data []byte) (*Table, error) {
	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}

	lines := SplitLines(string(decoded))
	if len(lines) < 2 {
		return nil, failure.Validation(ErrEmptyDataset, map[string]any{"lineCount": len(lines)})
	}

	delim := DetectDelimiter(lines[0])
	headers := SplitFields(lines[0], delim)
	for i, h := range headers {
		headers[i] = NormalizeHeader(h)
	}

	rows := make([]Row, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, Row{
			Index:  len(rows),
			Fields: SplitFields(line, delim),
			line:   line,
		})
	}

	zap.L().Debug("tabular: parsed delimited file",
		zap.String("delimiter", string(delim)),
		zap.Strings("headers", headers),
		zap.Int("rows", len(rows)),
	)

	return newTable(delim, headers, rows, SourceDelimited), nil
}

// FromRecords builds a Table from pre-split records whose first element is
// the header. Blank records are skipped.
func FromRecords(records [][]string, src Source) (*Table, error) {
	var kept [][]string
	for _, rec := range records {
		if !blankRecord(rec) {
			kept = append(kept, rec)
		}
	}
	if len(kept) < 2 {
		return nil, failure.Validation(ErrEmptyDataset, map[string]any{"lineCount": len(kept)})
	}

	headers := make([]string, len(kept[0]))
	for i, h := range kept[0] {
		headers[i] = NormalizeHeader(h)
	}

	rows := make([]Row, 0, len(kept)-1)
	for _, rec := range kept[1:] {
		fields := make([]string, len(rec))
		for i, f := range rec {
			fields[i] = cleanField(f)
		}
		rows = append(rows, Row{Index: len(rows), Fields: fields})
	}

	return newTable(',', headers, rows, src), nil
}

func newTable(delim rune, headers []string, rows []Row, src Source) *Table {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	return &Table{
		Delimiter: delim,
		Headers:   headers,
		Rows:      rows,
		Source:    src,
		index:     index,
	}
}

// SplitLines normalizes \r\n and bare \r to \n, splits, and drops lines that
// are empty after trimming. Data row indices are therefore dense.
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	raw := strings.Split(content, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// DetectDelimiter picks ';' only when the line has strictly more semicolons
// than commas. Ties, including zero of each, pick ','.
func DetectDelimiter(line string) rune {
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

// SplitFields splits line on delim outside double quotes. Quote characters
// toggle quoted mode and never appear in the output; fields are trimmed.
func SplitFields(line string, delim rune) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == delim && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

// NormalizeHeader lowercases a header cell, strips quotes and trims it.
func NormalizeHeader(h string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(h), `"`, ""))
}

func cleanField(f string) string {
	return strings.TrimSpace(strings.ReplaceAll(f, `"`, ""))
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Column returns the position of a normalized column name.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Missing returns the required columns absent from the header, in the order
// they were requested.
func (t *Table) Missing(required []string) []string {
	var missing []string
	for _, col := range required {
		if _, ok := t.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Row returns the data row at a 0-based index.
func (t *Table) Row(i int) (Row, bool) {
	if i < 0 || i >= len(t.Rows) {
		return Row{}, false
	}
	return t.Rows[i], true
}

// Value returns the cleaned value of column name in row, or "" when the row
// is short or the column is unknown.
func (t *Table) Value(row Row, name string) string {
	i, ok := t.index[name]
	if !ok || i >= len(row.Fields) {
		return ""
	}
	return cleanField(row.Fields[i])
}

// Record maps every header of the table to its value in row.
func (t *Table) Record(row Row) model.NormalizedRecord {
	rec := make(model.NormalizedRecord, len(t.index))
	for name := range t.index {
		rec[name] = t.Value(row, name)
	}
	return rec
}

// DelimiterName renders the detected delimiter for diagnostics.
func (t *Table) DelimiterName() string {
	return string(t.Delimiter)
}
