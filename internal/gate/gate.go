// Package gate validates a merged document record against known reference values.
package gate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"finrep/internal/domain"
	"finrep/internal/tree"
)

const epsilon = 1e-9

// Gate applies default tolerances to references that do not carry their own.
type Gate struct {
	RelTolerance float64
	AbsTolerance float64
}

// New creates a Gate with the given default relative and absolute tolerances.
func New(rel, abs float64) *Gate {
	return &Gate{RelTolerance: rel, AbsTolerance: abs}
}

// Check compares every reference against the record. All violations are reported.
func (g *Gate) Check(record *domain.DocumentRecord, refs []domain.ReferenceValue) domain.GateResult {
	result := domain.GateResult{Checked: len(refs), Violations: []domain.Violation{}}
	var data map[string]any
	if record != nil {
		data = record.Data
	}
	for _, ref := range refs {
		if v, ok := g.checkOne(data, ref); !ok {
			result.Violations = append(result.Violations, v)
		}
	}
	result.Passed = len(result.Violations) == 0
	return result
}

func (g *Gate) checkOne(data map[string]any, ref domain.ReferenceValue) (domain.Violation, bool) {
	expected := formatExpected(ref)
	actual, found := tree.Lookup(data, ref.Field)
	if !found {
		return domain.Violation{
			Field:    ref.Field,
			Expected: expected,
			Actual:   "",
			Message:  "field missing from extraction",
		}, false
	}

	if ref.Kind == domain.ReferenceText {
		return checkText(ref, expected, actual)
	}

	n, err := ParseNumber(actual)
	if err != nil {
		return domain.Violation{
			Field:    ref.Field,
			Expected: expected,
			Actual:   fmt.Sprint(actual),
			Message:  err.Error(),
		}, false
	}
	rel, abs := g.RelTolerance, g.AbsTolerance
	if ref.RelTolerance != nil {
		rel = *ref.RelTolerance
	}
	if ref.AbsTolerance != nil {
		abs = *ref.AbsTolerance
	}
	if WithinTolerance(ref.Number, n, rel, abs) {
		return domain.Violation{}, true
	}
	diff := n - ref.Number
	return domain.Violation{
		Field:    ref.Field,
		Expected: expected,
		Actual:   formatNumber(n),
		Diff:     diff,
		Message: fmt.Sprintf("diff %s exceeds both relative (%.4g) and absolute (%s) tolerance",
			formatNumber(diff), rel, formatNumber(abs)),
	}, false
}

// WithinTolerance passes when either the relative or the absolute band holds. Boundary
// values pass.
func WithinTolerance(expected, actual, rel, abs float64) bool {
	diff := math.Abs(actual - expected)
	if diff <= abs+epsilon {
		return true
	}
	return diff <= rel*math.Abs(expected)+epsilon
}

func checkText(ref domain.ReferenceValue, expected string, actual any) (domain.Violation, bool) {
	got := fmt.Sprint(actual)
	if TextMatches(ref.Text, got) {
		return domain.Violation{}, true
	}
	return domain.Violation{
		Field:    ref.Field,
		Expected: expected,
		Actual:   got,
		Message:  "text does not match reference",
	}, false
}

// TextMatches compares a text reference with an extracted value. References containing
// digits are identifiers (organisation numbers, IBANs) and must match exactly once case,
// spaces and separators are ignored. Other references are names: they match when their
// cores agree after dropping legal-form words, or when the shorter core is a run of whole
// words of at least minNameRunes covering minNameShare of the longer one.
func TextMatches(expected, actual string) bool {
	if strings.IndexFunc(expected, unicode.IsDigit) >= 0 {
		e, a := normalizeIdentifier(expected), normalizeIdentifier(actual)
		return e != "" && e == a
	}
	e, a := normalizeText(expected), normalizeText(actual)
	if e == "" || a == "" {
		return e == a
	}
	if e == a {
		return true
	}
	ce, ca := nameCore(e), nameCore(a)
	if ce == ca {
		return true
	}
	short, long := ce, ca
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	n := utf8.RuneCountInString(short)
	if n < minNameRunes || float64(n) < minNameShare*float64(utf8.RuneCountInString(long)) {
		return false
	}
	return strings.Contains(" "+long+" ", " "+short+" ")
}

const (
	minNameRunes = 4
	minNameShare = 0.5
)

// legalForms are dropped from names before comparison.
var legalForms = map[string]bool{
	"bostadsrättsföreningen": true,
	"bostadsrättsförening":   true,
	"brf":                    true,
	"aktiebolag":             true,
	"aktiebolaget":           true,
	"ab":                     true,
	"(publ)":                 true,
	"ekonomisk":              true,
	"ekonomiska":             true,
	"förening":               true,
	"föreningen":             true,
}

func nameCore(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if !legalForms[strings.Trim(w, ".,")] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, " ")
}

func normalizeIdentifier(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r), r == '-', r == '.', r == '/', r == '\u2010', r == '\u2013':
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func formatExpected(ref domain.ReferenceValue) string {
	if ref.Kind == domain.ReferenceText {
		return ref.Text
	}
	return formatNumber(ref.Number)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
