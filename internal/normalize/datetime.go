package normalize

import (
	"strings"
	"time"
)

// dateLayouts are tried in order; dayfirst is always false per §4.3 step 8:
// slash dates are read as MM/DD, and no DD/MM layout is tried.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"2006-01",
	"01/2006",
	"Jan 2006",
	"January 2006",
	"2006",
}

// parseDateTimeCell attempts each layout in turn, strict (no partial
// matches) and error-to-null on failure. It returns the layout that
// succeeded so the caller can detect mixed formats within a column.
func parseDateTimeCell(raw string) (t time.Time, layout string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, "", false
	}
	for _, l := range dateLayouts {
		if parsed, err := time.Parse(l, s); err == nil {
			return parsed.UTC(), l, true
		}
	}
	return time.Time{}, "", false
}

var booleanTokens = map[string]bool{
	"true": true, "false": false,
	"yes": true, "no": false,
	"y": true, "n": false,
	"1": true, "0": false,
}

func parseBooleanCell(raw string) (bool, bool) {
	v, ok := booleanTokens[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}
