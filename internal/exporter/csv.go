package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"keywarden/pkg/contracts/domain"
)

// utf8BOM helps Excel recognize UTF-8 encoded CSV files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV renders licenses as a BOM-prefixed CSV report.
func (w *ReportWriter) WriteCSV(wr io.Writer, licenses []*domain.License) error {
	w.logger.Debug("writing CSV report",
		slog.Int("record_count", len(licenses)))

	if _, err := wr.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(wr)

	if err := writer.Write(reportColumns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, lic := range licenses {
		if err := writer.Write(licenseRow(lic)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
