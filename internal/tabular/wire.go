package tabular

import (
	"bytes"
	"strings"
)

// WireCSV renders the table in the comma-delimited form the scorer accepts.
// The header line is always the normalized header. Comma-delimited rows
// are forwarded verbatim; any other source is re-joined with commas and
// fields that contain a comma are re-quoted.
func (t *Table) WireCSV() []byte {
	var buf bytes.Buffer
	buf.WriteString(joinQuoted(t.Headers))

	verbatim := t.Source == SourceDelimited && t.Delimiter == ','
	for _, row := range t.Rows {
		buf.WriteByte('\n')
		if verbatim {
			buf.WriteString(row.line)
			continue
		}
		buf.WriteString(joinQuoted(row.Fields))
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func joinQuoted(fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if strings.Contains(f, ",") {
			f = `"` + f + `"`
		}
		out[i] = f
	}
	return strings.Join(out, ",")
}
