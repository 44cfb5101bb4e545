package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// timeHeaderPatterns are substrings of a normalized column name that mark it
// as a time candidate, independent of whether its values parse as a date.
var timeHeaderPatterns = []string{
	"date", "dt", "as_of", "posting_date", "transaction_date",
	"year", "month", "quarter", "fiscal_period",
}

func isTimeHeaderCandidate(normalizedName string) bool {
	for _, p := range timeHeaderPatterns {
		if strings.Contains(normalizedName, p) {
			return true
		}
	}
	return false
}

var (
	yearValuePattern    = regexp.MustCompile(`^(19|20)\d{2}$`)
	yearMonthPattern    = regexp.MustCompile(`^(19|20)\d{2}-(0[1-9]|1[0-2])$`)
	monthYearPattern    = regexp.MustCompile(`^(0[1-9]|1[0-2])/(19|20)\d{2}$`)
	quarterValuePattern = regexp.MustCompile(`(?i)^q[1-4][-_ ]?(19|20)\d{2}$|^(19|20)\d{2}[-_ ]?q[1-4]$`)
)

// looksTemporalByValue reports whether a sample of raw cell values matches
// one of the recognized year/year-month/quarter shapes, used as a fallback
// time-candidate signal when the header name itself is uninformative.
func looksTemporalByValue(samples []string) bool {
	matched := 0
	total := 0
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total++
		if yearValuePattern.MatchString(s) || yearMonthPattern.MatchString(s) ||
			monthYearPattern.MatchString(s) || quarterValuePattern.MatchString(s) {
			matched++
		} else if _, _, ok := parseDateTimeCell(s); ok {
			matched++
		}
	}
	return total > 0 && float64(matched)/float64(total) >= 0.95
}

// periodGrainInputs summarizes, per normalized column name, what temporal
// role a candidate column plays: a full datetime column, a bare year
// column, a month column, or a quarter column.
type periodGrainInputs struct {
	HasDateTime bool
	HasYear     bool
	HasMonth    bool
	HasQuarter  bool

	DateTimeColumn string
	YearColumn     string
	MonthColumn    string
	QuarterColumn  string

	// QuarterHasEmbeddedYear is set when QuarterColumn's values are combined
	// tokens like "2024-Q1" rather than a bare quarter number, so the year
	// can be read out of the same column when no dedicated year column
	// exists.
	QuarterHasEmbeddedYear bool
}

// resolvePeriodGrain applies the §4.3 precedence: a full date/datetime
// column wins outright; otherwise year+month beats year+quarter beats a
// bare year column; no candidates yields "none".
func resolvePeriodGrain(in periodGrainInputs) string {
	switch {
	case in.HasDateTime:
		return GrainYearMonth
	case in.HasYear && in.HasMonth:
		return GrainYearMonth
	case in.HasYear && in.HasQuarter:
		return GrainYearQuarter
	case in.HasYear:
		return GrainYear
	default:
		return GrainNone
	}
}

// periodKey derives the canonical period string for one row, given the
// resolved grain and the already-typed values pulled from its source
// column(s). year/month/quarter are zero when not applicable to the grain.
func periodKey(grain string, year, month, quarter int) (string, bool) {
	switch grain {
	case GrainYearMonth:
		if year == 0 || month < 1 || month > 12 {
			return "", false
		}
		return fmt.Sprintf("%04d-M%02d", year, month), true
	case GrainYearQuarter:
		if year == 0 || quarter < 1 || quarter > 4 {
			return "", false
		}
		return fmt.Sprintf("%04d-Q%d", year, quarter), true
	case GrainYear:
		if year == 0 {
			return "", false
		}
		return fmt.Sprintf("%04d", year), true
	default:
		return "", false
	}
}

// parseBareQuarter extracts the quarter number from a standalone token like
// "Q1", "q1", or "Quarter 1", used when a dataset carries separate year and
// quarter columns rather than one combined token.
func parseBareQuarter(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "QUARTER")
	s = strings.TrimPrefix(s, "Q")
	s = strings.TrimSpace(s)
	q, err := strconv.Atoi(s)
	if err != nil || q < 1 || q > 4 {
		return 0, false
	}
	return q, true
}

// quarterFromMonth maps a calendar month to its fiscal quarter under the
// simple (non-shifted) convention: Q1 = Jan-Mar.
func quarterFromMonth(month int) int {
	return (month-1)/3 + 1
}

// parseQuarterToken extracts year and quarter from values like "Q1-2024",
// "2024Q1", "2024-Q1", or "Q1 2024".
func parseQuarterToken(s string) (year, quarter int, ok bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	if !strings.Contains(s, "-") {
		if strings.HasPrefix(s, "Q") && len(s) > 2 {
			s = s[:2] + "-" + s[2:]
		} else if i := strings.Index(s, "Q"); i > 0 {
			s = s[:i] + "-" + s[i:]
		}
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	for _, p := range parts {
		if strings.HasPrefix(p, "Q") && len(p) == 2 {
			q, err := strconv.Atoi(p[1:])
			if err != nil || q < 1 || q > 4 {
				return 0, 0, false
			}
			quarter = q
		} else if y, err := strconv.Atoi(p); err == nil && y >= 1900 && y <= 2999 {
			year = y
		}
	}
	if year == 0 || quarter == 0 {
		return 0, 0, false
	}
	return year, quarter, true
}
