package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	reportSheet  = "Report"
	summarySheet = "Summary"
)

// XLSXExporter renders datasets into an Excel workbook: a table sheet and a summary sheet.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render builds the workbook and returns its bytes.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("xlsx"); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E6E6E6"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, header := range data.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(reportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(data.Headers), 1)
	if err := f.SetCellStyle(reportSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}

	for r, row := range data.Rows {
		for c, value := range data.record(row) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(reportSheet, cell, value); err != nil {
				return nil, fmt.Errorf("write row %d: %w", r+1, err)
			}
		}
	}

	if len(data.Summary) > 0 {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return nil, fmt.Errorf("create summary sheet: %w", err)
		}
		if data.Title != "" {
			_ = f.SetCellValue(summarySheet, "A1", data.Title)
		}
		for i, line := range data.Summary {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), line.Label)
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), line.Value)
		}
		_ = f.SetColWidth(summarySheet, "A", "A", 32)
		_ = f.SetColWidth(summarySheet, "B", "B", 20)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
