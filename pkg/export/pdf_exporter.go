package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a landscape tabular PDF with a summary block.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with the dataset title, summary lines and table body.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("pdf"); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(data.Title)), "", 1, "C", false, 0, "")
		pdf.Ln(2)
	}

	if len(data.Summary) > 0 {
		pdf.SetFont("Arial", "", 10)
		for _, line := range data.Summary {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(60, 6, tr(line.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(0, 6, tr(line.Value), "", 1, "", false, 0, "")
		}
		pdf.Ln(4)
	}

	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (width - left - right) / float64(len(data.Headers))

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, value := range data.record(row) {
			pdf.CellFormat(colWidth, 7, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
