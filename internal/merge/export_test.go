package merge

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

func exportProjection() Projection {
	return Projection{
		"tear_size_limit": {
			Parameter: "tear_size_limit",
			Chosen: model.ChosenValue{
				Value:      "2.8",
				Unit:       "mm",
				SourceType: model.SourceDOCX,
				Origin:     "rev4.docx",
				UploadedAt: t10,
			},
		},
		"cap_diameter": {
			Parameter: "cap_diameter",
			Chosen: model.ChosenValue{
				Value:      "12.5",
				Unit:       "mm",
				SourceType: model.SourceUser,
			},
		},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, exportProjection()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, masterColumns, rows[0])
	// Rows sorted by parameter; chosen fields only, one row each.
	assert.Equal(t, []string{"cap_diameter", "12.5", "mm", "USER", "", ""}, rows[1])
	assert.Equal(t, []string{"tear_size_limit", "2.8", "mm", "DOCX", "rev4.docx", "2025-11-03T10:00:00Z"}, rows[2])
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(&buf, exportProjection()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Master Specs", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "parameter", sheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "tear_size_limit", sheet.Rows[2].Cells[0].Value)
	assert.Equal(t, "2.8", sheet.Rows[2].Cells[1].Value)
}
