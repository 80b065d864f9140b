// Package exporter renders the admin license inventory as downloadable
// reports.
//
// Two renditions are supported:
//
// CSV: encoding/csv output prefixed with a UTF-8 BOM so Excel opens the
// file with the right encoding.
//
// XLSX: a single-sheet workbook written with excelize.
//
// Example usage:
//
//	w := exporter.NewReportWriter(logger)
//	err := w.Write(httpResponse, exporter.FormatCSV, licenses)
package exporter
