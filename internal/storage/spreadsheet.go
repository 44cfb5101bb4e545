package storage

import (
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

// ListSheets returns the sheet names of an xlsx/xls workbook in file order.
func ListSheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, util.WrapKindError(util.KindValidation, err, "failed to open spreadsheet")
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ReadSpreadsheet reads one sheet of an xlsx/xls workbook into a RawTable.
// When sheet is empty, the first sheet with at least a header row is used;
// the chosen sheet name is returned so callers can record it in lineage.
//
// excelize does not preserve cell quoting, so, unlike ReadDelimited, an
// empty cell cannot be distinguished from an explicit empty string; both
// are treated as null.
func ReadSpreadsheet(path string, sheet string, maxBytes int64) (*table.RawTable, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", util.WrapKindError(util.KindNotFound, err, "spreadsheet not found")
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, "", util.NewKindError(util.KindPayloadTooLarge, "file exceeds configured byte limit")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", util.WrapKindError(util.KindValidation, err, "failed to open spreadsheet")
	}
	defer f.Close()

	candidates := []string{sheet}
	if sheet == "" {
		candidates = f.GetSheetList()
	}

	for _, sh := range candidates {
		if sh == "" {
			continue
		}
		rows, err := f.GetRows(sh)
		if err != nil || len(rows) == 0 {
			continue
		}
		headers := rows[0]
		rt := &table.RawTable{Headers: headers}
		for _, row := range rows[1:] {
			allBlank := true
			values := make([]string, len(headers))
			nullSet := map[int]bool{}
			for ci := range headers {
				if ci < len(row) {
					values[ci] = row[ci]
					if row[ci] != "" {
						allBlank = false
					} else {
						nullSet[ci] = true
					}
				} else {
					nullSet[ci] = true
				}
			}
			if allBlank {
				continue
			}
			rt.Rows = append(rt.Rows, values)
			rt.NullAt = append(rt.NullAt, nullSet)
		}
		return rt, sh, nil
	}

	return nil, "", util.NewKindError(util.KindValidation, "spreadsheet has no non-empty sheet")
}

// WriteSpreadsheet writes an ordered set of named sheets, one table each,
// to a single xlsx workbook at path.
func WriteSpreadsheet(order []string, sheets map[string]*table.Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, name := range order {
		t, ok := sheets[name]
		if !ok {
			continue
		}
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return util.WrapError(err, "failed to rename default sheet")
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return util.WrapError(err, "failed to create sheet")
		}

		headers := t.ColumnNames()
		for ci, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(ci+1, 1)
			f.SetCellValue(name, cell, h)
		}
		for ri := 0; ri < t.NumRows(); ri++ {
			for ci, c := range t.Columns {
				cell, _ := excelize.CoordinatesToCellName(ci+1, ri+2)
				if ri < len(c.Values) && !c.Values[ri].IsNull() {
					setCellForKind(f, name, cell, c.Values[ri])
				}
			}
		}
		_ = headers
	}

	if err := f.SaveAs(path); err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to write workbook")
	}
	return nil
}

func setCellForKind(f *excelize.File, sheet, cell string, v table.Value) {
	switch v.Kind() {
	case table.KindInt64:
		f.SetCellValue(sheet, cell, v.Int())
	case table.KindFloat64:
		f.SetCellValue(sheet, cell, v.Float())
	case table.KindBool:
		f.SetCellValue(sheet, cell, v.Bool())
	case table.KindTime:
		f.SetCellValue(sheet, cell, v.Time())
	default:
		f.SetCellValue(sheet, cell, v.String())
	}
}
