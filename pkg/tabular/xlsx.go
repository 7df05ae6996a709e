package tabular

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX returns one table per non-empty worksheet. The first row of each
// sheet is its header.
func ReadXLSX(data []byte) ([]*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var tables []*Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		tables = append(tables, FromRecords(sheet, rows[0], rows[1:]))
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("workbook has no data")
	}
	return tables, nil
}
