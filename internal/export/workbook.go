package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNotWorkbook is returned by Inspect for payloads that are not xlsx.
var ErrNotWorkbook = errors.New("not an xlsx workbook")

type Sheet struct {
	Name string
	// Rows counts data rows, excluding the header row.
	Rows    int
	Headers []string
}

type Workbook struct {
	Sheets []Sheet
}

// TotalRows sums data rows across sheets.
func (w Workbook) TotalRows() int {
	n := 0
	for _, s := range w.Sheets {
		n += s.Rows
	}
	return n
}

// Inspect opens an xlsx payload and reports its sheets.
func Inspect(data []byte) (Workbook, error) {
	// xlsx is a zip container.
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return Workbook{}, ErrNotWorkbook
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Workbook{}, fmt.Errorf("%w: %v", ErrNotWorkbook, err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return Workbook{}, fmt.Errorf("%w: no sheets", ErrNotWorkbook)
	}

	var wb Workbook
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return Workbook{}, fmt.Errorf("reading sheet %q: %w", name, err)
		}
		s := Sheet{Name: name}
		if len(rows) > 0 {
			for _, h := range rows[0] {
				s.Headers = append(s.Headers, strings.TrimSpace(h))
			}
			s.Rows = len(rows) - 1
		}
		wb.Sheets = append(wb.Sheets, s)
	}
	return wb, nil
}
