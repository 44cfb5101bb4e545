// Package concentration computes the ranked distribution of a numeric
// metric across a categorical entity, per period and overall, with
// deterministic tie-breaking and threshold bucketing.
package concentration

import (
	"fmt"
	"sort"

	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

const (
	DefaultLargeDatasetThreshold = 10000
	maxThresholds                = 10

	totalPeriodLabel = "TOTAL"
)

var DefaultThresholds = []int{10, 20, 50}

// Request describes one concentration analysis invocation.
type Request struct {
	GroupBy    string
	Value      string
	TimeColumn string // optional; "" means use period_key if present, else single implicit period
	// PeriodGrain is the normalizer's detected grain ("year_month",
	// "year_quarter", "year", or "none"); it is echoed in the result
	// document and gates whether ByPeriod is populated at all.
	PeriodGrain           string
	Thresholds            []int
	LargeDatasetThreshold int // 0 means DefaultLargeDatasetThreshold
}

// ThresholdResult is the count/value/pct triple reported under "top_<X>".
type ThresholdResult struct {
	Count      int     `json:"count"`
	Value      float64 `json:"value"`
	PctOfTotal float64 `json:"pct_of_total"`
}

// HeadRow is one ranked entity row in a period's "head" sample.
type HeadRow struct {
	GroupBy       string  `json:"group_by"`
	Value         float64 `json:"value"`
	Cumsum        float64 `json:"cumsum"`
	CumulativePct float64 `json:"cumulative_pct"`
}

// PeriodResult is the per-period (or TOTAL) concentration breakdown.
type PeriodResult struct {
	Period        string                     `json:"period"`
	Total         float64                    `json:"total,omitempty"`
	TotalEntities int                        `json:"total_entities,omitempty"`
	Concentration map[string]ThresholdResult `json:"concentration,omitempty"`
	Head          []HeadRow                  `json:"head,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

// Result is the full concentration result document for one analysis.
type Result struct {
	PeriodGrain string         `json:"period_grain"`
	Thresholds  []int          `json:"thresholds"`
	Warnings    []string       `json:"warnings"`
	ByPeriod    []PeriodResult `json:"by_period"`
	Totals      PeriodResult   `json:"totals"`
}

// ValidateThresholds sorts and deduplicates thresholds, enforcing the
// [1,100] integer range and a 10-entry cap.
func ValidateThresholds(in []int) ([]int, error) {
	if len(in) == 0 {
		in = append([]int{}, DefaultThresholds...)
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(in))
	for _, t := range in {
		if t < 1 || t > 100 {
			return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("threshold %d out of range [1,100]", t))
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) > maxThresholds {
		return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("at most %d thresholds allowed, got %d", maxThresholds, len(out)))
	}
	sort.Ints(out)
	return out, nil
}

// Analyze groups t by groupBy, sums value, and buckets the result by
// thresholds, once per distinct period (if timeColumn resolves) and once
// for the TOTAL aggregate.
func Analyze(t *table.Table, req Request) (*Result, error) {
	groupCol, ok := t.ColumnByName(req.GroupBy)
	if !ok {
		return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("Column '%s' not found in dataset", req.GroupBy))
	}
	valueCol, ok := t.ColumnByName(req.Value)
	if !ok {
		return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("Column '%s' not found in dataset", req.Value))
	}
	if valueCol.Kind != table.KindFloat64 && valueCol.Kind != table.KindInt64 {
		return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("Column '%s' is not numeric", req.Value))
	}

	thresholds, err := ValidateThresholds(req.Thresholds)
	if err != nil {
		return nil, err
	}

	largeThreshold := req.LargeDatasetThreshold
	if largeThreshold <= 0 {
		largeThreshold = DefaultLargeDatasetThreshold
	}

	grain := req.PeriodGrain
	if grain == "" {
		grain = "none"
	}
	timeCol, hasTime := resolveTimeColumn(t, req.TimeColumn)
	hasTime = hasTime && grain != "none"

	result := &Result{Thresholds: thresholds, PeriodGrain: grain}

	numRows := t.NumRows()

	if hasTime {
		periods := distinctPeriods(timeCol, numRows)
		for _, period := range periods {
			rowIdx := rowsForPeriod(timeCol, numRows, period)
			pr, warnings := computePeriod(period, groupCol, valueCol, rowIdx, thresholds, largeThreshold)
			result.Warnings = append(result.Warnings, warnings...)
			result.ByPeriod = append(result.ByPeriod, pr)
		}
	}

	allRows := make([]int, numRows)
	for i := range allRows {
		allRows[i] = i
	}
	totals, warnings := computePeriod(totalPeriodLabel, groupCol, valueCol, allRows, thresholds, largeThreshold)
	totals.TotalEntities = cardinalityOver(groupCol, allRows)
	result.Warnings = append(result.Warnings, warnings...)
	result.Totals = totals

	return result, nil
}

func resolveTimeColumn(t *table.Table, requested string) (*table.Column, bool) {
	name := requested
	if name == "" {
		name = "period_key"
	}
	col, ok := t.ColumnByName(name)
	if !ok {
		return nil, false
	}
	return col, true
}

func distinctPeriods(col *table.Column, numRows int) []string {
	seen := map[string]bool{}
	var out []string
	for i := 0; i < numRows && i < col.Len(); i++ {
		v := col.Values[i]
		if v.IsNull() {
			continue
		}
		s := v.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func rowsForPeriod(col *table.Column, numRows int, period string) []int {
	var out []int
	for i := 0; i < numRows && i < col.Len(); i++ {
		v := col.Values[i]
		if v.IsNull() {
			continue
		}
		if v.String() == period {
			out = append(out, i)
		}
	}
	return out
}

func cardinalityOver(col *table.Column, rows []int) int {
	seen := map[string]bool{}
	for _, i := range rows {
		if i >= col.Len() {
			continue
		}
		v := col.Values[i]
		if v.IsNull() {
			continue
		}
		seen[v.String()] = true
	}
	return len(seen)
}

type aggregateRow struct {
	group string
	sum   float64
}

// computePeriod runs the group/sort/cumulative-bucket pipeline over the
// given row subset and returns its PeriodResult plus any warnings raised.
func computePeriod(period string, groupCol, valueCol *table.Column, rows []int, thresholds []int, largeThreshold int) (PeriodResult, []string) {
	var warnings []string

	sums := map[string]float64{}
	for _, i := range rows {
		if i >= groupCol.Len() || i >= valueCol.Len() {
			continue
		}
		gv := groupCol.Values[i]
		vv := valueCol.Values[i]
		if gv.IsNull() || vv.IsNull() {
			continue
		}
		sums[gv.String()] += vv.AsFloat()
	}

	aggs := make([]aggregateRow, 0, len(sums))
	for g, s := range sums {
		aggs = append(aggs, aggregateRow{group: g, sum: s})
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].sum != aggs[j].sum {
			return aggs[i].sum > aggs[j].sum
		}
		return aggs[i].group < aggs[j].group
	})

	if len(aggs) > largeThreshold {
		warnings = append(warnings, fmt.Sprintf("Large dataset: %d entities exceed configured threshold", len(aggs)))
	}

	var total float64
	for _, a := range aggs {
		total += a.sum
	}

	pr := PeriodResult{Period: period, TotalEntities: len(aggs)}

	if total <= 0 {
		pr.Error = "Total value is non-positive; cannot compute concentration"
		return pr, warnings
	}
	pr.Total = total

	concentration := make(map[string]ThresholdResult, len(thresholds))
	cumsum := 0.0
	cumPcts := make([]float64, len(aggs))
	cumsums := make([]float64, len(aggs))
	for i, a := range aggs {
		cumsum += a.sum
		cumsums[i] = cumsum
		cumPcts[i] = cumsum / total * 100
	}

	for _, x := range thresholds {
		count := 0
		for _, pct := range cumPcts {
			if pct <= float64(x) {
				count++
			}
		}
		if count < 1 {
			count = 1
		}
		if count > len(aggs) {
			count = len(aggs)
		}
		var value float64
		for i := 0; i < count; i++ {
			value += aggs[i].sum
		}
		pct := value / total * 100
		concentration[fmt.Sprintf("top_%d", x)] = ThresholdResult{
			Count:      count,
			Value:      value,
			PctOfTotal: roundToOneDecimal(pct),
		}
	}
	pr.Concentration = concentration

	headLen := len(aggs)
	if headLen > 10 {
		headLen = 10
	}
	head := make([]HeadRow, 0, headLen)
	for i := 0; i < headLen; i++ {
		head = append(head, HeadRow{
			GroupBy:       aggs[i].group,
			Value:         aggs[i].sum,
			Cumsum:        cumsums[i],
			CumulativePct: roundToOneDecimal(cumPcts[i]),
		})
	}
	pr.Head = head

	return pr, warnings
}

func roundToOneDecimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
