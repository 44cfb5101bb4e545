package normalize

import (
	"testing"

	"github.com/concentra-io/concentra/internal/table"
)

func rawTable(headers []string, rows [][]string) *table.RawTable {
	nullAt := make([]map[int]bool, len(rows))
	for i := range rows {
		nullAt[i] = map[int]bool{}
	}
	return &table.RawTable{Headers: headers, Rows: rows, NullAt: nullAt}
}

func TestCleanHeaders(t *testing.T) {
	names, originals := CleanHeaders([]string{"Region Name", "2024 Revenue", "", "Region Name"})
	expected := []string{"region_name", "c_2024_revenue", "column_3", "region_name_2"}
	for i, exp := range expected {
		if names[i] != exp {
			t.Fatalf("header %d: expected %q got %q", i, exp, names[i])
		}
	}
	if originals["region_name"] != "Region Name" {
		t.Fatalf("expected original header preserved, got %q", originals["region_name"])
	}
}

func TestNormalizeRoleAssignment(t *testing.T) {
	raw := rawTable(
		[]string{"region", "month", "revenue", "is_active"},
		[][]string{
			{"East", "2024-01", "$1,200.50", "true"},
			{"West", "2024-02", "(300)", "false"},
			{"North", "2024-03", "2.5k", "yes"},
		},
	)

	out, schema, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}

	byName := map[string]ColumnSchema{}
	for _, c := range schema.Columns {
		byName[c.NormalizedName] = c
	}

	if byName["revenue"].Role != RoleNumeric {
		t.Fatalf("expected revenue role numeric, got %s", byName["revenue"].Role)
	}
	if byName["is_active"].Role != RoleBoolean {
		t.Fatalf("expected is_active role boolean, got %s", byName["is_active"].Role)
	}

	col, ok := out.ColumnByName("revenue")
	if !ok {
		t.Fatal("expected revenue column in typed table")
	}
	if col.Values[1].Float() != -300 {
		t.Fatalf("expected parenthesized value negated to -300, got %v", col.Values[1].Float())
	}
	if col.Values[2].Float() != 2500 {
		t.Fatalf("expected scale suffix applied, got %v", col.Values[2].Float())
	}
}

func TestNormalizeRevenueNegativeWarning(t *testing.T) {
	raw := rawTable(
		[]string{"revenue"},
		[][]string{{"100"}, {"-50"}, {"200"}},
	)
	_, schema, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range schema.Warnings {
		if w == "negative values found in revenue-like column 'revenue'" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected negative revenue warning, got %v", schema.Warnings)
	}
}

func TestNumericParseCurrencyScalePercent(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"$1,234.56", 1234.56},
		{"(45.00)", -45},
		{"3.2M", 3_200_000},
		{"50%", 0.5},
		{"€1.234,56", 1234.56},
	}
	for _, c := range cases {
		p := parseNumericCell(c.raw)
		if !p.OK {
			t.Fatalf("expected %q to parse", c.raw)
		}
		if p.Value != c.want {
			t.Fatalf("%q: expected %v got %v", c.raw, c.want, p.Value)
		}
	}
}

func TestNumericParseParenthesesWithTrailingCurrency(t *testing.T) {
	p := parseNumericCell("(1.234,50) €")
	if !p.OK {
		t.Fatalf("expected %q to parse", "(1.234,50) €")
	}
	if p.Value != -1234.50 {
		t.Fatalf("expected -1234.50, got %v", p.Value)
	}
	if !p.UsedParens {
		t.Error("expected UsedParens to be true")
	}
	if !p.UsedCurrency {
		t.Error("expected UsedCurrency to be true")
	}
	if p.CurrencySymbol != "€" {
		t.Errorf("expected currency symbol €, got %q", p.CurrencySymbol)
	}
}

func TestDateTimeParsing(t *testing.T) {
	if _, _, ok := parseDateTimeCell("2024-03-15"); !ok {
		t.Fatal("expected ISO date to parse")
	}
	if _, _, ok := parseDateTimeCell("not a date"); ok {
		t.Fatal("expected garbage input to fail")
	}
}

func TestPeriodGrainResolution(t *testing.T) {
	if g := resolvePeriodGrain(periodGrainInputs{HasDateTime: true}); g != GrainYearMonth {
		t.Fatalf("expected year_month, got %s", g)
	}
	if g := resolvePeriodGrain(periodGrainInputs{HasYear: true, HasQuarter: true}); g != GrainYearQuarter {
		t.Fatalf("expected year_quarter, got %s", g)
	}
	if g := resolvePeriodGrain(periodGrainInputs{HasYear: true}); g != GrainYear {
		t.Fatalf("expected year, got %s", g)
	}
	if g := resolvePeriodGrain(periodGrainInputs{}); g != GrainNone {
		t.Fatalf("expected none, got %s", g)
	}
}

func TestPeriodKey(t *testing.T) {
	if k, ok := periodKey(GrainYearMonth, 2024, 3, 0); !ok || k != "2024-M03" {
		t.Fatalf("expected 2024-M03, got %q ok=%v", k, ok)
	}
	if k, ok := periodKey(GrainYearQuarter, 2024, 0, 2); !ok || k != "2024-Q2" {
		t.Fatalf("expected 2024-Q2, got %q ok=%v", k, ok)
	}
	if k, ok := periodKey(GrainYear, 2024, 0, 0); !ok || k != "2024" {
		t.Fatalf("expected 2024, got %q ok=%v", k, ok)
	}
}
