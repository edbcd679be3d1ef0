package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadscore/internal/failure"
)

// ParseXLSX reads the first sheet of a workbook. The first non-blank row is
// the header.
func ParseXLSX(data []byte) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, failure.Validation("File is not a readable spreadsheet", map[string]any{
			"error": eris.Wrap(err, "xlsx: open").Error(),
		})
	}
	if len(f.Sheets) == 0 {
		return nil, failure.Validation(ErrEmptyDataset, map[string]any{"sheets": 0})
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		records = append(records, rowToStrings(row))
	}
	return FromRecords(records, SourceXLSX)
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
