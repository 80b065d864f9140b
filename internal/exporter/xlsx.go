package exporter

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"keywarden/pkg/contracts/domain"
)

const sheetName = "Licenses"

// WriteXLSX renders licenses as a single-sheet Excel workbook.
func (w *ReportWriter) WriteXLSX(wr io.Writer, licenses []*domain.License) error {
	w.logger.Debug("writing XLSX report",
		slog.Int("record_count", len(licenses)))

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := make([]interface{}, len(reportColumns))
	for i, col := range reportColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, lic := range licenses {
		cells := licenseRow(lic)
		row := make([]interface{}, len(cells))
		for j, cell := range cells {
			row[j] = cell
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	// Widen the key and timestamp columns so reports open readable.
	if err := f.SetColWidth(sheetName, "A", "A", 30); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "D", "J", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := f.WriteTo(wr); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
