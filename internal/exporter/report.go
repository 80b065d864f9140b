package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"keywarden/pkg/contracts/domain"
)

// Supported report formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// reportColumns is the fixed column order of every rendition.
var reportColumns = []string{
	"License Key",
	"Tier",
	"Tier Name",
	"Owner Email",
	"Active",
	"Created At",
	"Expires At",
	"Bound IP",
	"Last Seen IP",
	"Last Validated",
}

// Supported reports whether format names a known rendition.
func Supported(format string) bool {
	return format == FormatCSV || format == FormatXLSX
}

// ContentType returns the MIME type for a rendition.
func ContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename returns a timestamped download name for a rendition.
func Filename(format string) string {
	return fmt.Sprintf("keywarden-licenses-%s.%s",
		time.Now().UTC().Format("20060102-150405"), format)
}

// ReportWriter renders license records into report files.
type ReportWriter struct {
	logger *slog.Logger
}

// NewReportWriter creates a new report writer instance.
func NewReportWriter(logger *slog.Logger) *ReportWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{
		logger: logger.With(slog.String("component", "exporter")),
	}
}

// Write renders licenses in the named format. Unknown formats fail before
// anything is written.
func (w *ReportWriter) Write(wr io.Writer, format string, licenses []*domain.License) error {
	switch format {
	case FormatCSV:
		return w.WriteCSV(wr, licenses)
	case FormatXLSX:
		return w.WriteXLSX(wr, licenses)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// licenseRow flattens a record into the report column order.
func licenseRow(lic *domain.License) []string {
	return []string{
		lic.Key,
		string(lic.Tier),
		lic.Tier.Name(),
		lic.OwnerEmail,
		formatBool(lic.Active),
		formatTime(lic.CreatedAt),
		formatTime(lic.ExpiresAt),
		lic.BoundIP,
		lic.LastSeenIP,
		formatTime(lic.LastValidated),
	}
}
