// Package headers cleans noisy heading candidates and builds a two-level hierarchy.
package headers

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"finrep/internal/domain"
)

const (
	DefaultSimilarity = 0.8
	DefaultBoost      = 0.2
	minRunes          = 3
)

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[-+−]?[\d\s.,]+%?$`),             // pure numbers
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),             // ISO dates
	regexp.MustCompile(`^\d{1,2}[./]\d{1,2}[./]\d{2,4}$`), // dd.mm.yyyy
	regexp.MustCompile(`(?i)^\d{1,2}\s+(jan|feb|mar|apr|maj|may|jun|jul|aug|sep|okt|oct|nov|dec)\w*\s+\d{4}$`),
	regexp.MustCompile(`(?i)^[-−]?[\d\s.,]+\s*(kr|sek|tkr|mkr|eur|usd|:-)$`), // currency amounts
	regexp.MustCompile(`(?i)^(kr|sek|eur|usd)\s*[-−]?[\d\s.,]+$`),
	regexp.MustCompile(`^[\d-]{8,}$`),                                      // org numbers and other ids
	regexp.MustCompile(`(?i)^(sida|page|s\.)\s*\d+(\s*(av|of|/)\s*\d+)?$`), // page markers
	regexp.MustCompile(`^\d+\s*(/|av|of)\s*\d+$`),
	regexp.MustCompile(`(?i)^(summa|total|totalt)\b`), // table totals
	regexp.MustCompile(`^[^\p{L}\p{N}]+$`),            // symbols only
}

var (
	noteItemRe = regexp.MustCompile(`(?i)^(not|note)\s+(\d+)\b`)
	digitsRe   = regexp.MustCompile(`\d+`)
)

// topLevel is the vocabulary of canonical top-level section headings.
var topLevel = map[string]bool{
	"förvaltningsberättelse":         true,
	"resultaträkning":                true,
	"balansräkning":                  true,
	"kassaflödesanalys":              true,
	"noter":                          true,
	"revisionsberättelse":            true,
	"underskrifter":                  true,
	"flerårsöversikt":                true,
	"förändringar i eget kapital":    true,
	"management report":              true,
	"directors' report":              true,
	"income statement":               true,
	"balance sheet":                  true,
	"cash flow statement":            true,
	"notes":                          true,
	"auditor's report":               true,
	"signatures":                     true,
	"multi-year overview":            true,
	"statement of changes in equity": true,
}

var notesParents = map[string]bool{"noter": true, "notes": true}

// Filter runs the reject, boost, merge and hierarchy steps in that order.
type Filter struct {
	Similarity float64
	Boost      float64
}

// NewFilter returns a Filter with the default similarity threshold and boost.
func NewFilter() *Filter {
	return &Filter{Similarity: DefaultSimilarity, Boost: DefaultBoost}
}

// IsNoise reports whether text is rejected as a heading candidate.
func IsNoise(text string) bool {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < minRunes {
		return true
	}
	for _, re := range noisePatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// IsTopLevel reports whether text names a canonical top-level section.
func IsTopLevel(text string) bool {
	return topLevel[normalize(text)]
}

// Ratio is the normalized edit-distance similarity of a and b in [0, 1], compared
// case-insensitively on runes.
func Ratio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Apply turns raw candidates into a page-ordered, leveled list.
func (f *Filter) Apply(raw []domain.RawHeader) []domain.Header {
	candidates := f.clean(raw)
	merged := f.merge(candidates)
	return buildHierarchy(merged)
}

func (f *Filter) clean(raw []domain.RawHeader) []domain.Header {
	out := make([]domain.Header, 0, len(raw))
	for _, r := range raw {
		text := strings.Join(strings.Fields(r.Text), " ")
		if IsNoise(text) {
			continue
		}
		conf := r.Confidence
		if IsTopLevel(text) {
			conf += f.Boost
			if conf > 1 {
				conf = 1
			}
		}
		out = append(out, domain.Header{
			Text:       text,
			Page:       r.Page,
			Confidence: conf,
			MergeCount: 1,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// merge folds each candidate into the first kept entry it is similar to. Candidates
// whose embedded numbers differ are never merged, so "Not 1" and "Not 2" stay apart.
func (f *Filter) merge(candidates []domain.Header) []domain.Header {
	var kept []domain.Header
	for _, c := range candidates {
		idx := -1
		for i := range kept {
			if !sameNumbers(kept[i].Text, c.Text) {
				continue
			}
			if Ratio(kept[i].Text, c.Text) >= f.Similarity {
				idx = i
				break
			}
		}
		if idx < 0 {
			kept = append(kept, c)
			continue
		}
		k := &kept[idx]
		if utf8.RuneCountInString(c.Text) > utf8.RuneCountInString(k.Text) {
			k.Text = c.Text
		}
		if c.Page < k.Page {
			k.Page = c.Page
		}
		if c.Confidence > k.Confidence {
			k.Confidence = c.Confidence
		}
		k.MergeCount += c.MergeCount
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Page < kept[j].Page })
	return kept
}

func sameNumbers(a, b string) bool {
	na, nb := digitsRe.FindAllString(a, -1), digitsRe.FindAllString(b, -1)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func buildHierarchy(headers []domain.Header) []domain.Header {
	var out []domain.Header
	var items []domain.Header
	for _, h := range headers {
		switch {
		case notesParents[normalize(h.Text)]:
			h.Level = 1
		case noteItemRe.MatchString(h.Text):
			m := noteItemRe.FindStringSubmatch(h.Text)
			h.Level = 2
			h.NoteNumber, _ = strconv.Atoi(m[2])
			items = append(items, h)
			continue
		case IsTopLevel(h.Text):
			h.Level = 1
		default:
			h.Level = 2
		}
		out = append(out, h)
	}

	var orphans []domain.Header
	for _, item := range items {
		parent := -1
		for i := range out {
			if notesParents[normalize(out[i].Text)] && out[i].Page <= item.Page {
				parent = i
			}
		}
		if parent < 0 {
			orphans = append(orphans, item)
			continue
		}
		out[parent].Children = append(out[parent].Children, item)
	}

	for i := range out {
		sortNotes(out[i].Children)
	}
	out = append(out, orphans...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

func sortNotes(notes []domain.Header) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Page != notes[j].Page {
			return notes[i].Page < notes[j].Page
		}
		return notes[i].NoteNumber < notes[j].NoteNumber
	})
}

func normalize(text string) string {
	t := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.TrimRight(t, ".:")
}
