// Package normalize turns a RawTable of untyped strings into a typed
// table.Table plus a Schema document describing how each column was
// interpreted: its physical type, semantic role, cardinality, null rate,
// and the coercions applied to get there.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/concentra-io/concentra/internal/table"
)

const (
	// datetimeCoverageThreshold and booleanCoverageThreshold gate whether a
	// column is assigned that role at all (§4.3 steps 8-9); numeric uses the
	// "failure rate exceeds 50%" rule directly at its call site.
	datetimeCoverageThreshold = 0.5
	booleanCoverageThreshold  = 0.95
)

var revenueNamePattern = regexp.MustCompile(`revenue|sales|turnover`)
var allowedNegativeNamePattern = regexp.MustCompile(`cost|expense|profit|margin|adjustment|net_income`)

// Normalize runs header cleanup, per-column type/role detection, and value
// coercion over raw, returning the resulting typed table and its schema.
func Normalize(raw *table.RawTable) (*table.Table, *Schema, error) {
	normalizedNames, originals := CleanHeaders(raw.Headers)
	numCols := len(raw.Headers)
	numRows := len(raw.Rows)

	out := table.New()
	schema := &Schema{}

	grainIn := periodGrainInputs{}
	var warnings []string
	var notes []string
	var timeCandidates []string

	for col := 0; col < numCols; col++ {
		name := normalizedNames[col]
		raws := make([]string, numRows)
		isNull := make([]bool, numRows)
		for row := 0; row < numRows; row++ {
			raws[row] = raw.Rows[row][col]
			isNull[row] = raw.IsNull(row, col)
		}

		cs := ColumnSchema{
			OriginalHeader: originals[name],
			NormalizedName: name,
			Coercions:      newCoercionCounters(),
		}

		colOut, kind, role, colWarnings, metadata := detectAndCoerceColumn(name, raws, isNull, cs.Coercions)
		cs.PhysicalType = kindToPhysicalType(kind)
		cs.Role = role
		cs.NullRate = colOut.NullRate()
		cs.Cardinality = colOut.Cardinality()
		cs.Metadata = metadata
		warnings = append(warnings, colWarnings...)

		if numRows > 0 && cs.Coercions["failed_numeric"] > 0 && float64(cs.Coercions["failed_numeric"])/float64(numRows) > 0.1 {
			warnings = append(warnings, fmt.Sprintf("column '%s' failed numeric parsing for more than 10%% of rows", name))
		}

		// A column literally named year/month/quarter/fiscal_period is a
		// component column even if it happened to parse as a bare-year
		// datetime; only an actual date-shaped name or value contributes a
		// full date for year_month derivation. An unlabeled column (header
		// gives no hint) still counts if its sampled values themselves look
		// temporal, per §4.3 rule (b).
		isTimeHeader := isTimeHeaderCandidate(name)
		isTimeByValue := looksTemporalByValue(raws)
		switch {
		case strings.Contains(name, "quarter") || strings.Contains(name, "fiscal_period"):
			grainIn.HasQuarter = true
			grainIn.QuarterColumn = name
			if coverage(raws, isNull, func(s string) bool { _, _, ok := parseQuarterToken(s); return ok }) > datetimeCoverageThreshold {
				grainIn.QuarterHasEmbeddedYear = true
			}
		case strings.Contains(name, "month"):
			grainIn.HasMonth = true
			grainIn.MonthColumn = name
		case strings.Contains(name, "year"):
			grainIn.HasYear = true
			grainIn.YearColumn = name
		case role == RolePeriod && (isTimeHeader || isTimeByValue):
			grainIn.HasDateTime = true
			grainIn.DateTimeColumn = name
		}
		if isTimeHeader || isTimeByValue {
			timeCandidates = append(timeCandidates, name)
		}

		out.AddColumn(colOut)
		schema.Columns = append(schema.Columns, cs)
	}

	if !grainIn.HasYear && grainIn.HasQuarter && grainIn.QuarterHasEmbeddedYear {
		grainIn.HasYear = true
		grainIn.YearColumn = grainIn.QuarterColumn
	}

	schema.PeriodGrain = resolvePeriodGrain(grainIn)
	schema.PeriodGrainCandidates = periodGrainCandidateList(grainIn)
	schema.TimeCandidates = timeCandidates

	if schema.PeriodGrain != GrainNone {
		out.AddColumn(derivePeriodKeyColumn(out, schema.PeriodGrain, grainIn, numRows))
	}

	schema.Warnings = dedupeStrings(warnings)
	schema.Notes = notes

	return out, schema, nil
}

// derivePeriodKeyColumn builds the "period_key" column described in §4.3:
// one canonical period string per row, derived from whichever source
// columns fed the resolved grain.
func derivePeriodKeyColumn(out *table.Table, grain string, in periodGrainInputs, numRows int) *table.Column {
	col := table.NewColumn("period_key", table.KindString, numRows)

	var dateCol, yearCol, monthCol, quarterCol *table.Column
	if in.HasDateTime {
		dateCol, _ = out.ColumnByName(in.DateTimeColumn)
	}
	if in.HasYear {
		yearCol, _ = out.ColumnByName(in.YearColumn)
	}
	if in.HasMonth {
		monthCol, _ = out.ColumnByName(in.MonthColumn)
	}
	if in.HasQuarter {
		quarterCol, _ = out.ColumnByName(in.QuarterColumn)
	}

	for i := 0; i < numRows; i++ {
		year, month, quarter, ok := extractPeriodParts(grain, i, dateCol, yearCol, monthCol, quarterCol)
		if !ok {
			col.Append(table.Null())
			continue
		}
		key, ok := periodKey(grain, year, month, quarter)
		if !ok {
			col.Append(table.Null())
			continue
		}
		col.Append(table.StringValue(key))
	}
	return col
}

func extractPeriodParts(grain string, row int, dateCol, yearCol, monthCol, quarterCol *table.Column) (year, month, quarter int, ok bool) {
	switch grain {
	case GrainYearMonth:
		if dateCol != nil {
			if row >= dateCol.Len() || dateCol.Values[row].IsNull() {
				return 0, 0, 0, false
			}
			t := dateCol.Values[row].Time()
			return t.Year(), int(t.Month()), 0, true
		}
		y, yOK := columnIntAt(yearCol, row)
		m, mOK := columnIntAt(monthCol, row)
		if !yOK || !mOK {
			return 0, 0, 0, false
		}
		return y, m, 0, true
	case GrainYearQuarter:
		if yearCol != nil && quarterCol != nil && yearCol.Name == quarterCol.Name {
			return columnYearQuarterTokenAt(quarterCol, row)
		}
		y, yOK := columnIntAt(yearCol, row)
		if !yOK {
			return 0, 0, 0, false
		}
		q, qOK := columnQuarterAt(quarterCol, row)
		if !qOK {
			// A quarter cell that failed to parse directly may still carry
			// a calendar month in datasets that only recorded month instead
			// of quarter for that row.
			m, mOK := columnIntAt(monthCol, row)
			if !mOK {
				return 0, 0, 0, false
			}
			q = quarterFromMonth(m)
		}
		return y, 0, q, true
	case GrainYear:
		y, yOK := columnIntAt(yearCol, row)
		if !yOK {
			return 0, 0, 0, false
		}
		return y, 0, 0, true
	default:
		return 0, 0, 0, false
	}
}

func columnIntAt(col *table.Column, row int) (int, bool) {
	if col == nil || row >= col.Len() {
		return 0, false
	}
	v := col.Values[row]
	if v.IsNull() {
		return 0, false
	}
	switch v.Kind() {
	case table.KindFloat64, table.KindInt64:
		return int(v.AsFloat()), true
	case table.KindTime:
		return v.Time().Year(), true
	default:
		return 0, false
	}
}

// columnYearQuarterTokenAt reads both year and quarter out of a single
// combined-token column (e.g. "2024-Q1"), used when no dedicated year
// column exists alongside the quarter column.
func columnYearQuarterTokenAt(col *table.Column, row int) (year, month, quarter int, ok bool) {
	if col == nil || row >= col.Len() {
		return 0, 0, 0, false
	}
	v := col.Values[row]
	if v.IsNull() || v.Kind() != table.KindString {
		return 0, 0, 0, false
	}
	y, q, ok := parseQuarterToken(v.String())
	if !ok {
		return 0, 0, 0, false
	}
	return y, 0, q, true
}

func columnQuarterAt(col *table.Column, row int) (int, bool) {
	if col == nil || row >= col.Len() {
		return 0, false
	}
	v := col.Values[row]
	if v.IsNull() {
		return 0, false
	}
	switch v.Kind() {
	case table.KindFloat64, table.KindInt64:
		q := int(v.AsFloat())
		if q < 1 || q > 4 {
			return 0, false
		}
		return q, true
	case table.KindString:
		return parseBareQuarter(v.String())
	default:
		return 0, false
	}
}

// detectAndCoerceColumn assigns a role to one column by priority
// (datetime > boolean > numeric > identifier > categorical) and builds its
// typed table.Column, tallying coercion counters and collecting warnings.
func detectAndCoerceColumn(name string, raws []string, isNull []bool, coercions map[string]int) (*table.Column, table.Kind, string, []string, map[string]interface{}) {
	var warnings []string
	n := len(raws)

	nonNullCount := 0
	for _, null := range isNull {
		if !null {
			nonNullCount++
		}
	}
	if nonNullCount == 0 {
		col := table.NewColumn(name, table.KindString, n)
		for range raws {
			col.Append(table.Null())
		}
		return col, table.KindString, RoleCategorical, warnings, nil
	}

	if coverage(raws, isNull, func(s string) bool { _, _, ok := parseDateTimeCell(s); return ok }) > datetimeCoverageThreshold {
		col := table.NewColumn(name, table.KindTime, n)
		layouts := map[string]bool{}
		for i := 0; i < n; i++ {
			if isNull[i] {
				col.Append(table.Null())
				continue
			}
			t, layout, ok := parseDateTimeCell(raws[i])
			if !ok {
				col.Append(table.Null())
				continue
			}
			layouts[layout] = true
			coercions["datetime_parsed"]++
			col.Append(table.TimeValue(t))
		}
		if len(layouts) > 1 {
			warnings = append(warnings, fmt.Sprintf("ambiguous date format in column '%s': mixed layouts detected", name))
		}
		return col, table.KindTime, RolePeriod, warnings, nil
	}

	if coverage(raws, isNull, func(s string) bool { _, ok := parseBooleanCell(s); return ok }) >= booleanCoverageThreshold {
		col := table.NewColumn(name, table.KindBool, n)
		for i := 0; i < n; i++ {
			if isNull[i] {
				col.Append(table.Null())
				continue
			}
			v, ok := parseBooleanCell(raws[i])
			if !ok {
				col.Append(table.Null())
				continue
			}
			col.Append(table.BoolValue(v))
		}
		return col, table.KindBool, RoleBoolean, warnings, nil
	}

	if coverage(raws, isNull, func(s string) bool { return parseNumericCell(s).OK }) >= 0.5 {
		col, colWarnings, metadata := coerceNumericColumn(name, raws, isNull, coercions)
		warnings = append(warnings, colWarnings...)
		if revenueNamePattern.MatchString(name) && !allowedNegativeNamePattern.MatchString(name) {
			for _, v := range col.Values {
				if !v.IsNull() && v.AsFloat() < 0 {
					warnings = append(warnings, fmt.Sprintf("negative values found in revenue-like column '%s'", name))
					break
				}
			}
		}
		return col, table.KindFloat64, RoleNumeric, warnings, metadata
	}

	col := table.NewColumn(name, table.KindString, n)
	distinct := map[string]bool{}
	for i := 0; i < n; i++ {
		if isNull[i] {
			col.Append(table.Null())
			continue
		}
		v := strings.TrimSpace(raws[i])
		distinct[v] = true
		col.Append(table.StringValue(v))
	}
	role := RoleCategorical
	if nonNullCount > 0 && len(distinct) == nonNullCount && nonNullCount > 1 {
		role = RoleIdentifier
	}
	return col, table.KindString, role, warnings, nil
}

// coerceNumericColumn coerces raw cells to floats, tallying coercion
// counters and returning warnings plus column metadata (currently just
// multi_currency) discovered along the way.
func coerceNumericColumn(name string, raws []string, isNull []bool, coercions map[string]int) (*table.Column, []string, map[string]interface{}) {
	var warnings []string
	var metadata map[string]interface{}
	col := table.NewColumn(name, table.KindFloat64, len(raws))

	currencySeen := map[string]bool{}
	decimalInterpSeen := map[string]bool{}
	percentSuffixUsed := false
	allInUnitRange := true
	allInPercentRange := true
	anyValue := false

	parsed := make([]numericParse, len(raws))
	for i, raw := range raws {
		if isNull[i] {
			continue
		}
		p := parseNumericCell(raw)
		parsed[i] = p
		if !p.OK {
			coercions["failed_numeric"]++
			continue
		}
		anyValue = true
		if p.UsedCurrency {
			coercions["currency_removed"]++
			currencySeen[p.CurrencySymbol] = true
		}
		if p.UsedParens {
			coercions["parentheses_to_negative"]++
		}
		if p.UsedScale {
			coercions["scaling_applied"]++
		}
		if p.UsedUnicodeMinus {
			coercions["unicode_minus_normalized"]++
		}
		if p.UsedPercentSign {
			coercions["percent_normalized"]++
			percentSuffixUsed = true
		}
		if p.DecimalInterp != "" {
			decimalInterpSeen[p.DecimalInterp] = true
		}
		if p.Value < 0 || p.Value > 1 {
			allInUnitRange = false
		}
		if p.Value < 1 || p.Value > 100 {
			allInPercentRange = false
		}
	}

	applyPercentRange := !percentSuffixUsed && anyValue && !allInUnitRange && allInPercentRange &&
		(strings.Contains(name, "pct") || strings.Contains(name, "percent") || strings.Contains(name, "percentage"))

	for i := range raws {
		if isNull[i] {
			col.Append(table.Null())
			continue
		}
		p := parsed[i]
		if !p.OK {
			col.Append(table.Null())
			continue
		}
		v := p.Value
		if applyPercentRange {
			v /= 100
		}
		col.Append(table.FloatValue(v))
	}

	if len(currencySeen) > 1 {
		symbols := make([]string, 0, len(currencySeen))
		for s := range currencySeen {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		warnings = append(warnings, fmt.Sprintf("multiple currency symbols found in column '%s': %s", name, strings.Join(symbols, ", ")))
		metadata = map[string]interface{}{"multi_currency": true}
	}

	decimalBases := map[byte]map[string]bool{}
	for interp := range decimalInterpSeen {
		parts := strings.SplitN(interp, "-", 2)
		if len(parts) != 2 {
			continue
		}
		ch := parts[0][0]
		if decimalBases[ch] == nil {
			decimalBases[ch] = map[string]bool{}
		}
		decimalBases[ch][parts[1]] = true
	}
	for _, kinds := range decimalBases {
		if len(kinds) > 1 {
			warnings = append(warnings, fmt.Sprintf("mixed decimal conventions within column '%s'", name))
			break
		}
	}

	return col, warnings, metadata
}

func coverage(raws []string, isNull []bool, matches func(string) bool) float64 {
	total := 0
	matched := 0
	for i, r := range raws {
		if isNull[i] {
			continue
		}
		total++
		if matches(r) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

func kindToPhysicalType(k table.Kind) string {
	switch k {
	case table.KindInt64:
		return PhysicalInteger
	case table.KindFloat64:
		return PhysicalFloat
	case table.KindBool:
		return PhysicalBoolean
	case table.KindTime:
		return PhysicalDatetime
	default:
		return PhysicalString
	}
}

// periodGrainCandidateList lists, in the §4.3 precedence order, every
// grain the detected columns could support - a subset of {year_month,
// year_quarter, year, none}, always ending in "none".
func periodGrainCandidateList(in periodGrainInputs) []string {
	var out []string
	if in.HasDateTime || (in.HasYear && in.HasMonth) {
		out = append(out, GrainYearMonth)
	}
	if in.HasYear && in.HasQuarter {
		out = append(out, GrainYearQuarter)
	}
	if in.HasYear {
		out = append(out, GrainYear)
	}
	out = append(out, GrainNone)
	return out
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
