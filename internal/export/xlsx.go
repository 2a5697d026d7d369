package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// SheetName is the worksheet holding exported records.
const SheetName = "事業所一覧"

const emptyPlaceholder = "データがありません"

var columnWidths = []float64{10, 14, 30, 10, 40, 16, 16, 10, 20, 30, 12}

// WriteXLSX writes records as a single-sheet workbook. An empty record set
// produces a sheet holding only a placeholder cell.
func WriteXLSX(w io.Writer, records []models.FacilityRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if len(records) == 0 {
		if err := f.SetCellStr(SheetName, "A1", emptyPlaceholder); err != nil {
			return fmt.Errorf("write placeholder: %w", err)
		}
		return writeWorkbook(f, w)
	}

	if err := setRow(f, 1, Headers); err != nil {
		return err
	}
	for i, r := range records {
		if err := setRow(f, i+2, row(r)); err != nil {
			return err
		}
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("set width %s: %w", col, err)
		}
	}
	return writeWorkbook(f, w)
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", n, err)
	}
	return nil
}

func writeWorkbook(f *excelize.File, w io.Writer) error {
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
