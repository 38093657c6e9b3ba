// Package export renders the compliance report of a port call request as PDF
// or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// ParseFormat accepts pdf, docx and html. An empty value means pdf.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "":
		return FormatPDF, nil
	case FormatPDF, FormatDOCX, FormatHTML:
		return Format(value), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is the content of a compliance report. Rows arrive already filtered
// to what the caller may see, in catalog order.
type Report struct {
	RequestID   string
	VesselName  string
	PortName    string
	ETA         *time.Time
	GeneratedAt time.Time
	GeneratedBy string
	Rows        []Row
}

// Row is one document slot.
type Row struct {
	DocID           string
	DisplayName     string
	Owner           string
	Status          string
	FileName        string
	Note            string
	RejectionReason string
	UpdatedAt       time.Time
	History         []HistoryLine
}

// HistoryLine is one entry of a slot's history log.
type HistoryLine struct {
	Kind      string
	Role      string
	Message   string
	CreatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates an unknown format query value.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
