package exporter

import "time"

// formatTime formats a timestamp for report output. Zero times render as
// an empty cell rather than the zero-value date.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// formatBool formats a boolean value for report output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
