package merge

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
)

// masterColumns defines the ordered columns of the flattened master export:
// one row per parameter, chosen fields only.
var masterColumns = []string{
	"parameter",
	"value",
	"unit",
	"source_type",
	"origin",
	"uploaded_at",
}

// ExportCSV writes the projection as a flattened CSV, rows sorted by
// parameter name.
func ExportCSV(w io.Writer, proj Projection) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(masterColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	for _, rec := range proj.Records() {
		if err := cw.Write(masterRow(rec.Parameter, rec)); err != nil {
			return eris.Wrapf(err, "export: write row %s", rec.Parameter)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// ExportXLSX writes the projection as a single-sheet workbook.
func ExportXLSX(w io.Writer, proj Projection) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Master Specs")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range masterColumns {
		header.AddCell().Value = col
	}

	for _, rec := range proj.Records() {
		row := sheet.AddRow()
		for _, cell := range masterRow(rec.Parameter, rec) {
			row.AddCell().Value = cell
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func masterRow(parameter string, rec model.MergedRecord) []string {
	uploaded := ""
	if !rec.Chosen.UploadedAt.IsZero() {
		uploaded = rec.Chosen.UploadedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		parameter,
		rec.Chosen.Value,
		rec.Chosen.Unit,
		string(rec.Chosen.SourceType),
		rec.Chosen.Origin,
		uploaded,
	}
}
