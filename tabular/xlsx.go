package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads rows from the first sheet of an XLSX workbook laid out like
// the CSV source (header row first). The sheet is flattened to CSV in memory
// and fed through the same header-addressed reader so both formats share one
// code path.
func ReadXLSX(path string, skipped func(line int, err error)) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in XLSX")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("flattening sheet: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flattening sheet: %w", err)
	}

	return ReadCSV(&buf, skipped)
}
