package golden

import (
	"fmt"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Golden Record"

var exportHeaders = []string{
	"Field",
	"Value",
	"Type",
	"Source",
	"Validation Status",
	"Confidence",
	"Verified",
	"Category",
	"Notes",
}

// ExportXLSX renders golden records as a single-sheet workbook.
func ExportXLSX(records []domain.GoldenRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	for i, r := range records {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, r.FieldName)
		write(2, r.FieldValue)
		write(3, string(r.FieldType))
		write(4, string(r.DataSource))
		write(5, string(r.ValidationStatus))
		write(6, r.ConfidenceScore)
		write(7, r.IsVerified)
		write(8, Categorize(r.FieldName))
		write(9, r.VerificationNotes)
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 28)
	_ = f.SetColWidth(exportSheet, "B", "B", 32)
	_ = f.SetColWidth(exportSheet, "C", "H", 16)
	_ = f.SetColWidth(exportSheet, "I", "I", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
