package classifier

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"finrep/internal/domain"
	"finrep/internal/port"
)

// keywordRules are matched against lowercased page text. Each distinct pattern hit counts
// once toward its section kind.
var keywordRules = map[domain.SectionKind][]*regexp.Regexp{
	domain.SectionCover: {
		regexp.MustCompile(`årsredovisning|\bannual report\b`),
		regexp.MustCompile(`\bräkenskapsåret\b|\bfinancial year\b`),
		regexp.MustCompile(`\borg\.?\s*nr\b|\borganisationsnummer\b`),
	},
	domain.SectionManagementReport: {
		regexp.MustCompile(`\bförvaltningsberättelse\b|\b(management|directors'?) report\b`),
		regexp.MustCompile(`\bstyrelsen\b|\bboard of directors\b`),
		regexp.MustCompile(`\bväsentliga händelser\b|\bsignificant events\b`),
		regexp.MustCompile(`\bunderhållsplan\b|\bmaintenance plan\b`),
		regexp.MustCompile(`\bföreningens (fastighet|ekonomi)\b`),
	},
	domain.SectionIncomeStatement: {
		regexp.MustCompile(`\bresultaträkning\b|\bincome statement\b`),
		regexp.MustCompile(`\brörelseintäkter\b|\bnettoomsättning\b|\brevenue\b`),
		regexp.MustCompile(`\brörelsekostnader\b|\boperating expenses\b`),
		regexp.MustCompile(`årets resultat\b|\bnet (income|result) for the year\b`),
	},
	domain.SectionBalanceSheet: {
		regexp.MustCompile(`\bbalansräkning\b|\bbalance sheet\b`),
		regexp.MustCompile(`\bsumma tillgångar\b|\btotal assets\b`),
		regexp.MustCompile(`\beget kapital och skulder\b|\bequity and liabilities\b`),
		regexp.MustCompile(`\banläggningstillgångar\b|\bfixed assets\b`),
	},
	domain.SectionCashFlow: {
		regexp.MustCompile(`\bkassaflödesanalys\b|\bcash flow statement\b`),
		regexp.MustCompile(`\bden löpande verksamheten\b|\boperating activities\b`),
		regexp.MustCompile(`\blikvida medel vid årets (slut|början)\b|\bcash at (end|beginning) of\b`),
	},
	domain.SectionEquityChanges: {
		regexp.MustCompile(`\bförändring(ar)? (i|av) eget kapital\b|\bchanges in equity\b`),
		regexp.MustCompile(`\bbalanserat resultat\b|\bretained earnings\b`),
	},
	domain.SectionMultiYearOverview: {
		regexp.MustCompile(`\bflerårsöversikt\b|\bmulti-year overview\b`),
		regexp.MustCompile(`\bnyckeltal\b|\bkey (figures|ratios)\b`),
	},
	domain.SectionNotes: {
		regexp.MustCompile(`(?m)^\s*(noter|notes)\s*$`),
		regexp.MustCompile(`(?m)^\s*(not|note)\s+\d+\b`),
		regexp.MustCompile(`\bredovisningsprinciper\b|\baccounting principles\b`),
	},
	domain.SectionSignatures: {
		regexp.MustCompile(`\bunderskrifter\b|\bsignatures\b`),
		regexp.MustCompile(`\bvår revisionsberättelse har lämnats\b`),
		regexp.MustCompile(`\b(ort och datum|place and date)\b`),
	},
	domain.SectionAuditorReport: {
		regexp.MustCompile(`\brevisionsberättelse\b|\bauditor'?s report\b`),
		regexp.MustCompile(`\buttalanden\b|\bopinions?\b`),
		regexp.MustCompile(`\bauktoriserad revisor\b|\bauthorised public accountant\b`),
	},
}

// KeywordStrategy labels pages by counting vocabulary hits in the page text layer.
type KeywordStrategy struct {
	pages port.PageSource
}

// NewKeywordStrategy creates the deterministic keyword classifier.
func NewKeywordStrategy(pages port.PageSource) *KeywordStrategy {
	return &KeywordStrategy{pages: pages}
}

func (k *KeywordStrategy) Name() string { return "keyword" }

func (k *KeywordStrategy) ClassifyPage(ctx context.Context, doc *domain.Document, page int) (domain.PageLabel, error) {
	text, err := k.pages.PageText(ctx, doc, page)
	if err != nil {
		return domain.PageLabel{}, err
	}
	label := ScoreText(text, page)
	label.Headers = HeadingCandidates(text, page)
	return label, nil
}

// ScoreText picks the section kind with the most distinct pattern hits. Ties resolve to
// the kind listed first in canonical order. Confidence is hits/(hits+1).
func ScoreText(text string, page int) domain.PageLabel {
	lower := strings.ToLower(text)
	best, bestHits := domain.SectionOther, 0
	for _, kind := range domain.AllSectionKinds {
		hits := 0
		for _, re := range keywordRules[kind] {
			if re.MatchString(lower) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = kind, hits
		}
	}
	if bestHits == 0 {
		if page == 1 {
			return domain.PageLabel{Kind: domain.SectionCover, Confidence: 0.6}
		}
		return domain.PageLabel{Kind: domain.SectionOther, Confidence: 0}
	}
	return domain.PageLabel{Kind: best, Confidence: float64(bestHits) / float64(bestHits+1)}
}

// HeadingCandidates returns short, capitalized lines without terminal punctuation.
func HeadingCandidates(text string, page int) []domain.RawHeader {
	var out []domain.RawHeader
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n < 3 || n > 80 || strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
			continue
		}
		first, _ := utf8.DecodeRuneInString(line)
		if !unicode.IsUpper(first) {
			continue
		}
		conf := 0.5
		if strings.Count(line, " ") <= 4 {
			conf = 0.6
		}
		out = append(out, domain.RawHeader{Text: line, Page: page, Confidence: conf})
	}
	return out
}
