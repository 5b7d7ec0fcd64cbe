package classifier

import (
	"context"
	"fmt"
	"strings"

	"finrep/internal/domain"
	"finrep/internal/jsonparse"
	"finrep/internal/port"
)

// VisionStrategy asks a vision model to label a rendered page.
type VisionStrategy struct {
	client     port.ModelClient
	rasterizer port.Rasterizer
	dpi        int
}

// NewVisionStrategy creates a vision-model classifier rendering pages at dpi.
func NewVisionStrategy(client port.ModelClient, rasterizer port.Rasterizer, dpi int) *VisionStrategy {
	return &VisionStrategy{client: client, rasterizer: rasterizer, dpi: dpi}
}

func (v *VisionStrategy) Name() string { return "vision" }

type visionLabel struct {
	Section    string  `json:"section"`
	Confidence float64 `json:"confidence"`
	Headers    []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"headers"`
}

func (v *VisionStrategy) ClassifyPage(ctx context.Context, doc *domain.Document, page int) (domain.PageLabel, error) {
	img, err := v.rasterizer.Render(ctx, doc, page, v.dpi)
	if err != nil {
		return domain.PageLabel{}, fmt.Errorf("rendering page %d: %w", page, err)
	}
	resp, err := v.client.Complete(ctx, port.ModelRequest{
		RunID:     port.RunIDFrom(ctx),
		Kind:      domain.CallKindClassify,
		Prompt:    BuildVisionPrompt(page),
		Images:    [][]byte{img},
		MaxTokens: 1024,
		JSONMode:  true,
	})
	if err != nil {
		return domain.PageLabel{}, err
	}

	var out visionLabel
	if _, err := jsonparse.Into(resp.Text, &out); err != nil {
		return domain.PageLabel{}, err
	}
	kind, ok := domain.ParseSectionKind(out.Section)
	if !ok {
		return domain.PageLabel{Kind: domain.SectionOther, Confidence: 0}, nil
	}
	label := domain.PageLabel{Kind: kind, Confidence: clamp01(out.Confidence)}
	for _, h := range out.Headers {
		label.Headers = append(label.Headers, domain.RawHeader{
			Text:       h.Text,
			Page:       page,
			Confidence: clamp01(h.Confidence),
		})
	}
	return label, nil
}

// BuildVisionPrompt returns the page classification instruction.
func BuildVisionPrompt(page int) string {
	kinds := make([]string, 0, len(domain.AllSectionKinds))
	for _, k := range domain.AllSectionKinds {
		kinds = append(kinds, string(k))
	}
	return fmt.Sprintf(`You are classifying page %d of a scanned Swedish or English annual financial report.

Assign exactly one section label from this list:
%s

Also list the visible headings on the page, in reading order.

Respond with ONLY a JSON object of this shape:
{"section": "<label>", "confidence": <0.0-1.0>, "headers": [{"text": "<heading>", "confidence": <0.0-1.0>}]}

If the page does not clearly belong to any section, use "other" with a low confidence.`,
		page, strings.Join(kinds, ", "))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
