package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/concentra-io/concentra/internal/concentration"
)

func sampleResult() *concentration.Result {
	return &concentration.Result{
		PeriodGrain: "none",
		Thresholds:  []int{10, 50},
		Totals: concentration.PeriodResult{
			Period: "TOTAL",
			Total:  2500,
			Concentration: map[string]concentration.ThresholdResult{
				"top_10": {Count: 1, Value: 1000, PctOfTotal: 40.0},
				"top_50": {Count: 1, Value: 1000, PctOfTotal: 40.0},
			},
			Head: []concentration.HeadRow{
				{GroupBy: "ACME", Value: 1000, Cumsum: 1000, CumulativePct: 40.0},
				{GroupBy: "BETA", Value: 500, Cumsum: 1500, CumulativePct: 60.0},
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concentration.csv")
	params := Parameters{GroupBy: "entity", ValueCol: "revenue", Thresholds: []int{10, 50}}
	if err := WriteCSV(sampleResult(), params, path); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // the trailing compatibility line has fewer fields
	records, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if records[0][0] != "period" {
		t.Fatalf("expected header row, got %v", records[0])
	}
	if records[1][0] != "TOTAL" || records[1][1] != "10" || records[1][2] != "1" {
		t.Fatalf("expected TOTAL/10/1 row, got %v", records[1])
	}
	last := records[len(records)-1]
	if last[0] != "GroupBy" || last[1] != "revenue" {
		t.Fatalf("expected trailing compatibility line, got %v", last)
	}
}

func TestWriteXLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concentration.xlsx")
	params := Parameters{GroupBy: "entity", ValueCol: "revenue", Thresholds: []int{10, 50}}
	if err := WriteXLSX(sampleResult(), params, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected xlsx file to exist: %v", err)
	}
}
