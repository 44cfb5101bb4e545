// Package export renders a concentration result document as the two
// downloadable artifacts the analyze endpoint links to: a flat CSV and a
// multi-sheet workbook.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/concentra-io/concentra/internal/concentration"
	"github.com/concentra-io/concentra/internal/util"
)

// Parameters captures the analyze request inputs the Parameters sheet and
// warnings reference; it has no bearing on the numeric result itself.
type Parameters struct {
	GroupBy    string
	ValueCol   string
	TimeCol    string
	Thresholds []int
}

// LinksBlock is the "export_links" object attached to an analyze response.
// A field is left empty when its artifact failed to render.
type LinksBlock struct {
	CSV  string `json:"csv,omitempty"`
	XLSX string `json:"xlsx,omitempty"`
}

// WriteCSV renders period/threshold/count/value/pct_of_total rows, in
// by_period order followed by TOTAL, with a trailing compatibility line.
func WriteCSV(result *concentration.Result, params Parameters, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to create csv export")
	}
	w := csv.NewWriter(f)

	if err := w.Write([]string{"period", "threshold", "count", "value", "pct_of_total"}); err != nil {
		f.Close()
		return util.WrapError(err, "failed to write csv header")
	}

	for _, pr := range result.ByPeriod {
		writePeriodRows(w, pr, result.Thresholds)
	}
	writePeriodRows(w, result.Totals, result.Thresholds)

	// Transitional backward-compatibility line; see open questions.
	if err := w.Write([]string{"GroupBy", params.ValueCol}); err != nil {
		f.Close()
		return util.WrapError(err, "failed to write compatibility line")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return util.WrapError(err, "failed to flush csv export")
	}
	if err := f.Close(); err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to close csv export")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to commit csv export")
	}
	return nil
}

func writePeriodRows(w *csv.Writer, pr concentration.PeriodResult, thresholds []int) {
	if pr.Error != "" {
		return
	}
	for _, x := range thresholds {
		key := fmt.Sprintf("top_%d", x)
		tr, ok := pr.Concentration[key]
		if !ok {
			w.Write([]string{pr.Period, strconv.Itoa(x), "", "", ""})
			continue
		}
		w.Write([]string{
			pr.Period,
			strconv.Itoa(x),
			strconv.Itoa(tr.Count),
			strconv.FormatFloat(tr.Value, 'f', -1, 64),
			strconv.FormatFloat(tr.PctOfTotal, 'f', 1, 64),
		})
	}
}

// WriteXLSX renders the Summary, Top_Entities, and Parameters sheets.
func WriteXLSX(result *concentration.Result, params Parameters, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, result); err != nil {
		return err
	}
	if err := writeTopEntitiesSheet(f, result); err != nil {
		return err
	}
	if err := writeParametersSheet(f, params); err != nil {
		return err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)

	tmp := path + ".tmp"
	if err := f.SaveAs(tmp); err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to write xlsx export")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to commit xlsx export")
	}
	return nil
}

func writeSummarySheet(f *excelize.File, result *concentration.Result) error {
	sheet := "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return util.WrapError(err, "failed to create Summary sheet")
	}

	headers := []string{"period", "total"}
	for _, x := range result.Thresholds {
		headers = append(headers, fmt.Sprintf("top_%d_count", x), fmt.Sprintf("top_%d_value", x), fmt.Sprintf("top_%d_pct", x))
	}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	rows := append(append([]concentration.PeriodResult{}, result.ByPeriod...), result.Totals)
	for rowIdx, pr := range rows {
		row := rowIdx + 2
		f.SetCellValue(sheet, cellAt(1, row), pr.Period)
		if pr.Error != "" {
			f.SetCellValue(sheet, cellAt(2, row), pr.Error)
			continue
		}
		f.SetCellValue(sheet, cellAt(2, row), pr.Total)
		col := 3
		for _, x := range result.Thresholds {
			key := fmt.Sprintf("top_%d", x)
			if tr, ok := pr.Concentration[key]; ok {
				f.SetCellValue(sheet, cellAt(col, row), tr.Count)
				f.SetCellValue(sheet, cellAt(col+1, row), tr.Value)
				f.SetCellValue(sheet, cellAt(col+2, row), tr.PctOfTotal)
			}
			col += 3
		}
	}
	return nil
}

func writeTopEntitiesSheet(f *excelize.File, result *concentration.Result) error {
	sheet := "Top_Entities"
	if _, err := f.NewSheet(sheet); err != nil {
		return util.WrapError(err, "failed to create Top_Entities sheet")
	}
	headers := []string{"period", "entity", "value", "cumsum", "cumulative_pct"}
	for col, h := range headers {
		f.SetCellValue(sheet, cellAt(col+1, 1), h)
	}
	row := 2
	rows := append(append([]concentration.PeriodResult{}, result.ByPeriod...), result.Totals)
	for _, pr := range rows {
		for _, hr := range pr.Head {
			f.SetCellValue(sheet, cellAt(1, row), pr.Period)
			f.SetCellValue(sheet, cellAt(2, row), hr.GroupBy)
			f.SetCellValue(sheet, cellAt(3, row), hr.Value)
			f.SetCellValue(sheet, cellAt(4, row), hr.Cumsum)
			f.SetCellValue(sheet, cellAt(5, row), hr.CumulativePct)
			row++
		}
	}
	return nil
}

func writeParametersSheet(f *excelize.File, params Parameters) error {
	sheet := "Parameters"
	if _, err := f.NewSheet(sheet); err != nil {
		return util.WrapError(err, "failed to create Parameters sheet")
	}
	f.SetCellValue(sheet, "A1", "Parameter")
	f.SetCellValue(sheet, "B1", "Value")

	thresholdStrs := make([]string, len(params.Thresholds))
	for i, x := range params.Thresholds {
		thresholdStrs[i] = strconv.Itoa(x)
	}

	rows := [][2]string{
		{"Group By", params.GroupBy},
		{"Value Column", params.ValueCol},
		{"Time Column", params.TimeCol},
		{"Thresholds", joinInts(thresholdStrs)},
	}
	for i, r := range rows {
		row := i + 2
		f.SetCellValue(sheet, cellAt(1, row), r[0])
		f.SetCellValue(sheet, cellAt(2, row), r[1])
	}
	return nil
}

func cellAt(col, row int) string {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	return cell
}

func joinInts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
