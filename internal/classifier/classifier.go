// Package classifier segments a document's pages into canonical sections.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/headers"
	"finrep/internal/port"
)

// Strategy labels a single page.
type Strategy interface {
	Name() string
	ClassifyPage(ctx context.Context, doc *domain.Document, page int) (domain.PageLabel, error)
}

// Result is a classified document: its sections plus the cleaned heading hierarchy.
type Result struct {
	Sections []domain.Section
	Headers  []domain.Header
	Labels   []domain.PageLabel
}

// Classifier scans pages in order with one strategy and aggregates runs of equal labels.
type Classifier struct {
	strategy      Strategy
	pages         port.PageSource
	filter        *headers.Filter
	minConfidence float64
}

// New creates a Classifier. Pages labeled below minConfidence become "other".
func New(strategy Strategy, pages port.PageSource, filter *headers.Filter, minConfidence float64) *Classifier {
	if filter == nil {
		filter = headers.NewFilter()
	}
	return &Classifier{
		strategy:      strategy,
		pages:         pages,
		filter:        filter,
		minConfidence: minConfidence,
	}
}

// Classify labels every page and returns page-ordered, non-overlapping sections covering
// the whole document. Only a failure to count pages aborts; a page that cannot be
// classified becomes "other" with confidence 0.
func (c *Classifier) Classify(ctx context.Context, doc *domain.Document) (*Result, error) {
	count := doc.PageCount
	if count == 0 {
		n, err := c.pages.PageCount(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("counting pages: %w", err)
		}
		count = n
	}
	if count <= 0 {
		return nil, fmt.Errorf("document %s: %w", doc.ID, domain.ErrNoPages)
	}

	labels := make([]domain.PageLabel, count)
	var raw []domain.RawHeader
	for page := 1; page <= count; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, err := c.strategy.ClassifyPage(ctx, doc, page)
		if err != nil {
			zap.L().Warn("classifier.Classify: page classification failed",
				zap.String("document_id", doc.ID), zap.Int("page", page),
				zap.String("strategy", c.strategy.Name()), zap.Error(err))
			label = domain.PageLabel{Kind: domain.SectionOther, Confidence: 0}
		}
		if !label.Kind.Valid() || label.Confidence < c.minConfidence {
			label.Kind = domain.SectionOther
		}
		for _, h := range label.Headers {
			h.Page = page
			raw = append(raw, h)
		}
		labels[page-1] = label
	}

	hdrs := c.filter.Apply(raw)
	sections := Aggregate(labels)
	attachHeaders(sections, hdrs)
	return &Result{Sections: sections, Headers: hdrs, Labels: labels}, nil
}

// Aggregate folds consecutive pages with the same label into sections. Section
// confidence is the mean page confidence.
func Aggregate(labels []domain.PageLabel) []domain.Section {
	var sections []domain.Section
	var sum float64
	for i, l := range labels {
		page := i + 1
		if n := len(sections); n > 0 && sections[n-1].Kind == l.Kind {
			sections[n-1].EndPage = page
			sum += l.Confidence
			continue
		}
		if n := len(sections); n > 0 {
			sections[n-1].Confidence = sum / float64(sections[n-1].EndPage-sections[n-1].StartPage+1)
		}
		sections = append(sections, domain.Section{Kind: l.Kind, StartPage: page, EndPage: page})
		sum = l.Confidence
	}
	if n := len(sections); n > 0 {
		sections[n-1].Confidence = sum / float64(sections[n-1].EndPage-sections[n-1].StartPage+1)
	}
	return sections
}

// attachHeaders titles each section with its first level-1 heading and turns note
// headings inside a notes section into subsections.
func attachHeaders(sections []domain.Section, hdrs []domain.Header) {
	for i := range sections {
		s := &sections[i]
		for _, h := range hdrs {
			if h.Level == 1 && h.Page >= s.StartPage && h.Page <= s.EndPage {
				s.Title = h.Text
				break
			}
		}
		if s.Kind != domain.SectionNotes {
			continue
		}
		var notes []domain.Header
		for _, h := range hdrs {
			for _, child := range h.Children {
				if child.Page >= s.StartPage && child.Page <= s.EndPage {
					notes = append(notes, child)
				}
			}
		}
		for j, n := range notes {
			end := s.EndPage
			if j+1 < len(notes) && notes[j+1].Page > n.Page {
				end = notes[j+1].Page - 1
			} else if j+1 < len(notes) {
				end = n.Page
			}
			s.Subsections = append(s.Subsections, domain.Section{
				Kind:       domain.SectionNotes,
				Title:      n.Text,
				StartPage:  n.Page,
				EndPage:    end,
				Confidence: n.Confidence,
			})
		}
	}
}
