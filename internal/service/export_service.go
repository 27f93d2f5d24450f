package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-admin-api/internal/dto"
	"github.com/noah-isme/school-admin-api/pkg/export"
	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

var contentTypes = map[string]string{
	FormatCSV:  "text/csv",
	FormatPDF:  "application/pdf",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	MaxRows int
}

// ExportFile is a rendered report ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders composed report views into downloadable files.
type ExportService struct {
	reports   reportComposer
	renderers map[string]datasetRenderer
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService with the csv, pdf and xlsx renderers.
func NewExportService(reports reportComposer, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	return &ExportService{
		reports: reports,
		renderers: map[string]datasetRenderer{
			FormatCSV:  export.NewCSVExporter(),
			FormatPDF:  export.NewPDFExporter(),
			FormatXLSX: export.NewXLSXExporter(),
		},
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Export composes the report and renders it in the requested format.
func (s *ExportService) Export(ctx context.Context, params dto.ReportParams, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	view, _, err := s.reports.Compose(ctx, params)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(s.dataset(view))
	if err != nil {
		return nil, internalError(err, "failed to render export")
	}
	s.logger.Info("report exported",
		zap.String("type", string(view.Type)),
		zap.String("format", format),
		zap.Int("rows", len(view.Rows)),
		zap.Int("bytes", len(payload)),
	)
	return &ExportFile{
		Filename:    s.filename(view, format),
		ContentType: contentTypes[format],
		Data:        payload,
	}, nil
}

func (s *ExportService) dataset(view *dto.ReportView) export.Dataset {
	ds := export.Dataset{
		Title:   view.Title,
		Headers: view.Columns,
		Rows:    view.Rows,
	}
	ds.Summary = append(ds.Summary, export.SummaryLine{
		Label: "Period",
		Value: view.Range.Start.Format(dateLayout) + " to " + view.Range.End.Format(dateLayout),
	})
	for _, card := range view.Cards {
		ds.Summary = append(ds.Summary, export.SummaryLine{Label: card.Label, Value: card.Value})
	}
	for _, w := range view.Warnings {
		ds.Summary = append(ds.Summary, export.SummaryLine{Label: "Warning", Value: w})
	}
	if len(ds.Rows) > s.cfg.MaxRows {
		ds.Summary = append(ds.Summary, export.SummaryLine{
			Label: "Note",
			Value: fmt.Sprintf("showing first %d of %d rows", s.cfg.MaxRows, len(ds.Rows)),
		})
		ds.Rows = ds.Rows[:s.cfg.MaxRows]
	}
	return ds
}

func (s *ExportService) filename(view *dto.ReportView, format string) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.%s",
		sanitizeFilename(string(view.Type)),
		view.Range.Start.Format("20060102"),
		timestamp,
		format,
	)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "report"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
