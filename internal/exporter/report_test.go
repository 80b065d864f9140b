package exporter

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"keywarden/pkg/contracts/domain"
)

func testWriter() *ReportWriter {
	return NewReportWriter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testLicenses() []*domain.License {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []*domain.License{
		{
			Key:           "G-0123456789ABCDEF01234567",
			Tier:          domain.TierGuardian,
			OwnerEmail:    "ops@example.com",
			CreatedAt:     created,
			ExpiresAt:     created.AddDate(0, 0, 30),
			Active:        true,
			BoundIP:       "203.0.113.9",
			LastSeenIP:    "203.0.113.9",
			LastValidated: created.Add(48 * time.Hour),
		},
		{
			Key:       "S-FFFFFFFFFFFFFFFFFFFFFFFF",
			Tier:      domain.TierSentinel,
			CreatedAt: created,
			ExpiresAt: created.AddDate(0, 0, 7),
			Active:    false,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := testWriter().WriteCSV(&buf, testLicenses())
	require.NoError(t, err)

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, utf8BOM), "expected UTF-8 BOM prefix")

	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, reportColumns, records[0])
	assert.Equal(t, "G-0123456789ABCDEF01234567", records[1][0])
	assert.Equal(t, "Guardian", records[1][2])
	assert.Equal(t, "ops@example.com", records[1][3])
	assert.Equal(t, "true", records[1][4])
	assert.Equal(t, "2026-03-01T10:00:00Z", records[1][5])
	assert.Equal(t, "203.0.113.9", records[1][7])

	// The never-validated record renders empty cells, not zero dates.
	assert.Equal(t, "false", records[2][4])
	assert.Equal(t, "", records[2][7])
	assert.Equal(t, "", records[2][9])
}

func TestWriteCSVEmptyList(t *testing.T) {
	var buf bytes.Buffer
	err := testWriter().WriteCSV(&buf, nil)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(buf.Bytes(), utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, reportColumns, records[0])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	err := testWriter().WriteXLSX(&buf, testLicenses())
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, reportColumns, rows[0])
	assert.Equal(t, "G-0123456789ABCDEF01234567", rows[1][0])
	assert.Equal(t, "S-FFFFFFFFFFFFFFFFFFFFFFFF", rows[2][0])
	assert.Equal(t, "Sentinel", rows[2][2])
}

func TestWriteDispatch(t *testing.T) {
	var buf bytes.Buffer
	w := testWriter()

	require.NoError(t, w.Write(&buf, FormatCSV, nil))

	err := w.Write(&buf, "pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report format")
}

func TestFormatHelpers(t *testing.T) {
	assert.True(t, Supported(FormatCSV))
	assert.True(t, Supported(FormatXLSX))
	assert.False(t, Supported("pdf"))
	assert.False(t, Supported(""))

	assert.Equal(t, "text/csv; charset=utf-8", ContentType(FormatCSV))
	assert.Contains(t, ContentType(FormatXLSX), "spreadsheetml")

	name := Filename(FormatXLSX)
	assert.True(t, strings.HasPrefix(name, "keywarden-licenses-"))
	assert.True(t, strings.HasSuffix(name, ".xlsx"))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", formatTime(time.Time{}))

	loc := time.FixedZone("UTC+3", 3*60*60)
	in := time.Date(2026, 3, 1, 13, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-01T10:00:00Z", formatTime(in))
}
