package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/model"
	"github.com/nightfury00918/Hitachi-spec-pipeline/internal/vocab"
)

// ReadDefectsCSV reads defect records from a CSV file. encoding names a
// charset for sheets exported by legacy tooling ("" or "utf-8" reads the
// file as-is). Recognized columns are defect_type, measured_value and unit;
// every other column passes through untouched as metadata.
func ReadDefectsCSV(path, encoding string) ([]model.DefectRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open defects %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if encoding != "" && !strings.EqualFold(encoding, "utf-8") {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: unsupported charset %q", encoding)
		}
		r = enc.NewDecoder().Reader(f)
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read defects header %s", path)
	}

	var defects []model.DefectRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read defects row %s", path)
		}
		d, err := defectFromRow(header, row)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s", path)
		}
		defects = append(defects, d)
	}

	return defects, nil
}

// ReadDefectsXLSX reads defect records from the first sheet of an XLSX
// workbook, with the same column mapping as ReadDefectsCSV.
func ReadDefectsXLSX(path string) ([]model.DefectRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open defects %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	var header []string
	var defects []model.DefectRecord
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		d, err := defectFromRow(header, cells)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s row %d", path, i+1)
		}
		defects = append(defects, d)
	}

	return defects, nil
}

// defectFromRow maps a header-indexed row onto a DefectRecord.
func defectFromRow(header, row []string) (model.DefectRecord, error) {
	var d model.DefectRecord
	for i, col := range header {
		if i >= len(row) {
			break
		}
		val := strings.TrimSpace(row[i])
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "defect_type", "defect type":
			d.DefectType = val
		case "measured_value", "measured value", "size":
			if val == "" {
				continue
			}
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return d, eris.Wrapf(err, "defect measurement %q", val)
			}
			d.MeasuredValue = f
		case "unit":
			d.Unit = vocab.NormalizeUnit(val)
		case "id":
			d.ID = val
		default:
			if val == "" {
				continue
			}
			if d.Metadata == nil {
				d.Metadata = make(map[string]any)
			}
			d.Metadata[col] = val
		}
	}
	if d.DefectType == "" {
		return d, eris.New("row has no defect_type")
	}
	return d, nil
}
