// Package pdfpages reads page counts and page text with pdfcpu and renders pages with
// poppler's pdftoppm.
package pdfpages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"finrep/internal/domain"
)

// Source implements port.PageSource over a document's PDF bytes. Parsed documents are
// cached by Document.CacheKey until Release is called.
type Source struct {
	mu    sync.Mutex
	cache map[string]*model.Context
}

// NewSource creates an empty page source.
func NewSource() *Source {
	return &Source{cache: map[string]*model.Context{}}
}

func (s *Source) load(doc *domain.Document) (*model.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.CacheKey()
	if ctx, ok := s.cache[key]; ok {
		return ctx, nil
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("document %s: %w", doc.ID, domain.ErrNoPages)
	}
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc.Content), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: document %s is not a readable PDF: %w", domain.ErrInvalidInput, doc.ID, err)
	}
	s.cache[key] = ctx
	return ctx, nil
}

// Release drops the cached parse stored under key.
func (s *Source) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

func (s *Source) PageCount(_ context.Context, doc *domain.Document) (int, error) {
	ctx, err := s.load(doc)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

func (s *Source) PageText(_ context.Context, doc *domain.Document, page int) (string, error) {
	ctx, err := s.load(doc)
	if err != nil {
		return "", err
	}
	if page < 1 || page > ctx.PageCount {
		return "", fmt.Errorf("%w: page %d out of range 1..%d", domain.ErrInvalidInput, page, ctx.PageCount)
	}
	r, err := pdfcpu.ExtractPageContent(ctx, page)
	if err != nil {
		return "", fmt.Errorf("%w: extracting page %d content: %w", domain.ErrInvalidInput, page, err)
	}
	if r == nil {
		return "", nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading page %d content: %w", page, err)
	}
	return TextFromContentStream(data), nil
}

var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// TextFromContentStream pulls string operands of text-showing operators out of a page
// content stream. Line-positioning operators start a new line.
func TextFromContentStream(data []byte) string {
	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			newline()
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")), bytes.Equal(line, []byte("T*")):
			newline()
		}
	}
	return strings.TrimSpace(sb.String())
}

func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			val := int(c - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}
