// Package report exports a day's delivery history as CSV or Excel via
// GET /history/, and renders a single driver's route as a PDF end-of-day
// manifest via GET /history/manifest/.
package report

import (
	"fmt"

	"routeplan/internal/domain"
	"routeplan/pkg/apperror"
)

// Format is an export format requested via the history export endpoint.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "xlsx"
	FormatPDF   Format = "pdf"
)

// ContentType returns the MIME type the HTTP handler should set for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// ExportHistory renders a company's delivery history rows as CSV or Excel,
// the formats GET /history/ offers. PDF export is per-driver manifest only
// (GeneratePDF, reachable from GET /history/manifest/), since a PDF table of
// every driver's day is not a useful document.
func ExportHistory(format Format, rows []*domain.DeliveryHistory) ([]byte, error) {
	switch format {
	case FormatCSV:
		return GenerateCSV(rows)
	case FormatExcel:
		return GenerateExcel(rows)
	default:
		return nil, apperror.New(apperror.CodeInvalidArgument, fmt.Sprintf("unsupported export format %q", format)).WithField("format")
	}
}
