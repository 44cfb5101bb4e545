package normalize

import (
	"strconv"
	"strings"
)

const (
	nbsp  = ' '
	nnbsp = ' '
	uMinus = '−'
)

var scaleSuffixes = []struct {
	token      string
	multiplier float64
}{
	// longest tokens first so "bn"/"mm" are not shadowed by "b"/"m".
	{"bn", 1e9},
	{"mm", 1e6},
	{"k", 1e3},
	{"K", 1e3},
	{"m", 1e6},
	{"M", 1e6},
	{"b", 1e9},
	{"B", 1e9},
}

var currencySymbols = []string{"$", "€", "£", "¥"}

// numericParse is the outcome of running one cell through §4.3 steps 2-7.
type numericParse struct {
	OK              bool
	Value           float64
	CurrencySymbol  string
	UsedCurrency    bool
	UsedParens      bool
	UsedScale       bool
	UsedUnicodeMinus bool
	UsedPercentSign bool
	DecimalInterp   string // "" | "<char>-decimal" | "<char>-thousand" | "<char>-both"
}

// parseNumericCell runs the full §4.3 value-preprocessing pipeline
// (whitespace/sign, currency, scale, decimal convention, percent suffix)
// on one raw cell and attempts a final float parse.
func parseNumericCell(raw string) numericParse {
	s := strings.TrimSpace(raw)
	s = stripNBSP(s)

	var negative bool
	var res numericParse

	// currency symbol, leading or trailing, single occurrence - stripped
	// before the parenthesis check since a currency symbol can sit either
	// inside or outside the parens: "($1,234.50)" vs "(1.234,50) €".
	s = stripCurrency(s, &res)

	// parentheses negativity
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		res.UsedParens = true
		s = strings.TrimSpace(s[1 : len(s)-1])
		s = stripCurrency(s, &res)
	}

	// unicode/ascii leading or trailing minus
	if strings.HasPrefix(s, string(uMinus)) {
		negative = true
		res.UsedUnicodeMinus = true
		s = strings.TrimSpace(s[len(string(uMinus)):])
	} else if strings.HasSuffix(s, string(uMinus)) {
		negative = true
		res.UsedUnicodeMinus = true
		s = strings.TrimSpace(s[:len(s)-len(string(uMinus))])
	} else if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[1:])
	} else if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[:len(s)-1])
	}

	// percent suffix
	if strings.HasSuffix(s, "%") {
		res.UsedPercentSign = true
		s = strings.TrimSpace(s[:len(s)-1])
	}

	// scale suffix - longest match first, must follow at least one digit
	for _, sc := range scaleSuffixes {
		if len(s) > len(sc.token) && strings.HasSuffix(s, sc.token) {
			prefix := s[:len(s)-len(sc.token)]
			if isDigitLike(prefix[len(prefix)-1]) {
				res.UsedScale = true
				s = prefix
				res.Value = sc.multiplier // stash multiplier temporarily in Value
				break
			}
		}
	}
	multiplier := 1.0
	if res.UsedScale {
		multiplier = res.Value
		res.Value = 0
	}

	cleaned, interp, ok := applyDecimalConvention(s)
	if !ok {
		return res // OK stays false
	}
	res.DecimalInterp = interp

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return res
	}
	if negative {
		v = -v
	}
	v *= multiplier
	if res.UsedPercentSign {
		v /= 100
	}
	res.Value = v
	res.OK = true
	return res
}

// stripCurrency removes a single leading or trailing currency symbol from
// s, recording it on res, and returns the trimmed remainder. A no-op if s
// already carries no recognized currency symbol.
func stripCurrency(s string, res *numericParse) string {
	if res.UsedCurrency {
		return s
	}
	for _, sym := range currencySymbols {
		if strings.HasPrefix(s, sym) {
			res.UsedCurrency = true
			res.CurrencySymbol = sym
			return strings.TrimSpace(s[len(sym):])
		}
		if strings.HasSuffix(s, sym) {
			res.UsedCurrency = true
			res.CurrencySymbol = sym
			return strings.TrimSpace(s[:len(s)-len(sym)])
		}
	}
	return s
}

func stripNBSP(s string) string {
	return strings.Map(func(r rune) rune {
		if r == nbsp || r == nnbsp {
			return -1
		}
		return r
	}, s)
}

func isDigitLike(b byte) bool { return b >= '0' && b <= '9' }

// applyDecimalConvention resolves '.' / ',' ambiguity for one value per
// §4.3 step 5 and returns a cleaned string using '.' as the decimal point,
// ready for strconv.ParseFloat, plus a tag describing which convention was
// applied (used to detect "mixed decimal conventions" at the column level).
func applyDecimalConvention(s string) (cleaned string, interp string, ok bool) {
	if s == "" {
		return "", "", false
	}
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimalIdx := lastDot
		decimalChar := byte('.')
		thousandsChar := byte(',')
		if lastComma > lastDot {
			decimalIdx = lastComma
			decimalChar = ','
			thousandsChar = '.'
		}
		var b strings.Builder
		for i := 0; i < len(s); i++ {
			switch {
			case i == decimalIdx:
				b.WriteByte('.')
			case s[i] == thousandsChar:
				// thousands separator, drop
			case s[i] == decimalChar:
				// a second occurrence of the decimal char earlier, drop
			default:
				b.WriteByte(s[i])
			}
		}
		return b.String(), string(decimalChar) + "-both", true

	case lastComma >= 0:
		return resolveSinglePunctuation(s, ',', lastComma)

	case lastDot >= 0:
		return resolveSinglePunctuation(s, '.', lastDot)

	default:
		return s, "", true
	}
}

func resolveSinglePunctuation(s string, ch byte, lastIdx int) (string, string, bool) {
	trailingDigits := 0
	for i := lastIdx + 1; i < len(s); i++ {
		if isDigitLike(s[i]) {
			trailingDigits++
		} else {
			return "", "", false
		}
	}
	var b strings.Builder
	if trailingDigits == 1 || trailingDigits == 2 {
		for i := 0; i < len(s); i++ {
			if s[i] == ch {
				if i == lastIdx {
					b.WriteByte('.')
				}
				// earlier occurrences of the same char are thousands seps, drop
				continue
			}
			b.WriteByte(s[i])
		}
		return b.String(), string(ch) + "-decimal", true
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ch {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), string(ch) + "-thousand", true
}
