package export

import (
	"context"
	"fmt"
	"time"
)

// Service renders compliance reports.
type Service struct {
	// Timeout bounds one PDF or DOCX conversion. Zero means 30s.
	Timeout time.Duration
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{Timeout: 30 * time.Second}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	title := "compliance-" + report.RequestID
	switch format {
	case FormatPDF:
		return exportPDF(ctx, html, title)
	case FormatDOCX:
		return exportDOCX(ctx, html, title)
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
