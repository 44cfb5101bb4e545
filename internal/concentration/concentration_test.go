package concentration

import (
	"testing"

	"github.com/concentra-io/concentra/internal/table"
)

func buildTable(entities []string, revenues []float64) *table.Table {
	out := table.New()
	entityCol := table.NewColumn("entity", table.KindString, len(entities))
	revenueCol := table.NewColumn("revenue", table.KindFloat64, len(revenues))
	for i := range entities {
		entityCol.Append(table.StringValue(entities[i]))
		revenueCol.Append(table.FloatValue(revenues[i]))
	}
	out.AddColumn(entityCol)
	out.AddColumn(revenueCol)
	return out
}

func TestAnalyzeSinglePeriodTies(t *testing.T) {
	tbl := buildTable(
		[]string{"ACME", "BETA", "GAMMA", "DELTA"},
		[]float64{1000, 500, 500, 500},
	)
	result, err := Analyze(tbl, Request{
		GroupBy:    "entity",
		Value:      "revenue",
		Thresholds: []int{10, 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	top10 := result.Totals.Concentration["top_10"]
	if top10.Count != 1 || top10.Value != 1000 || top10.PctOfTotal != 40.0 {
		t.Fatalf("top_10: expected {1,1000,40.0}, got %+v", top10)
	}
	top50 := result.Totals.Concentration["top_50"]
	if top50.Count != 1 || top50.Value != 1000 || top50.PctOfTotal != 40.0 {
		t.Fatalf("top_50: expected {1,1000,40.0}, got %+v", top50)
	}
	if result.Totals.Head[1].GroupBy != "BETA" {
		t.Fatalf("expected tie-break ascending, second entity BETA, got %s", result.Totals.Head[1].GroupBy)
	}
}

func TestAnalyzeNonPositiveTotal(t *testing.T) {
	tbl := buildTable([]string{"A", "B"}, []float64{-10, -5})
	result, err := Analyze(tbl, Request{GroupBy: "entity", Value: "revenue"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Totals.Error != "Total value is non-positive; cannot compute concentration" {
		t.Fatalf("expected non-positive total error, got %q", result.Totals.Error)
	}
}

func TestAnalyzeMissingColumn(t *testing.T) {
	tbl := buildTable([]string{"A"}, []float64{1})
	_, err := Analyze(tbl, Request{GroupBy: "nope", Value: "revenue"})
	if err == nil {
		t.Fatal("expected error for missing column")
	}
}

func TestValidateThresholds(t *testing.T) {
	if _, err := ValidateThresholds([]int{50, 10, 10, 120}); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
	out, err := ValidateThresholds([]int{50, 10, 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != 10 || out[1] != 50 {
		t.Fatalf("expected [10 50], got %v", out)
	}
}
