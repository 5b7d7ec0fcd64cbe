package gate

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber reads a numeric value in whole currency units (kronor) from a tree leaf.
// Strings may use Swedish or English grouping ("1 234 567", "1.234.567,50", "12.500",
// "1,234,567.50"), a currency suffix, a unicode minus or parentheses for negatives. A lone
// separator is grouping when it follows a one-to-three digit integer part and precedes
// exactly three digits. The tkr/TSEK and mkr/MSEK suffixes scale by a thousand and a
// million.
func ParseNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return parseNumericString(n)
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func parseNumericString(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "−", "-")
	scale := 1.0
	for trimmed := true; trimmed; {
		trimmed = false
		s = strings.TrimSpace(s)
		lower := strings.ToLower(s)
		for _, u := range unitSuffixes {
			if strings.HasSuffix(lower, u.suffix) {
				s = s[:len(s)-len(u.suffix)]
				scale *= u.scale
				trimmed = true
				break
			}
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)

	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && !isGrouping(s, lastComma) {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || isGrouping(s, lastDot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as number: %w", raw, err)
	}
	if neg {
		f = -f
	}
	return f * scale, nil
}

// unitSuffixes are matched case-insensitively, longest first.
var unitSuffixes = []struct {
	suffix string
	scale  float64
}{
	{"tsek", 1e3},
	{"msek", 1e6},
	{"tkr", 1e3},
	{"mkr", 1e6},
	{"kr.", 1},
	{"sek", 1},
	{"kr", 1},
	{":-", 1},
}

// isGrouping reports whether the only separator at idx splits a one-to-three digit
// integer part (not starting with 0) from exactly three digits.
func isGrouping(s string, idx int) bool {
	intPart := strings.TrimPrefix(s[:idx], "-")
	return len(s)-idx-1 == 3 && len(intPart) >= 1 && len(intPart) <= 3 && intPart[0] != '0'
}
