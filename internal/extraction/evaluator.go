package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finrep/internal/domain"
	"finrep/internal/jsonparse"
	"finrep/internal/port"
)

const evaluateMaxTokens = 4096

// ModelEvaluator grades extractions with a second model.
type ModelEvaluator struct {
	client port.ModelClient
}

var _ port.EvaluatorBackend = (*ModelEvaluator)(nil)

func NewModelEvaluator(client port.ModelClient) *ModelEvaluator {
	return &ModelEvaluator{client: client}
}

type scorecardPayload struct {
	AccuracyScore   float64  `json:"accuracy_score"`
	MissingFields   []string `json:"missing_fields"`
	IncorrectFields []string `json:"incorrect_fields"`
	ImprovedPrompt  string   `json:"improved_prompt"`
}

func (e *ModelEvaluator) Evaluate(ctx context.Context, input port.EvaluationInput) (*domain.Scorecard, error) {
	resp, err := e.client.Complete(ctx, port.ModelRequest{
		RunID:     input.RunID,
		Kind:      domain.CallKindEvaluate,
		Prompt:    BuildEvaluationPrompt(input.Section, input.Data, input.ExpectedFields, input.Prompt),
		MaxTokens: evaluateMaxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", input.Section, err)
	}

	var payload scorecardPayload
	if _, err := jsonparse.Into(resp.Text, &payload); err != nil {
		var se *domain.SchemaError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, fmt.Errorf("decoding scorecard: %w", err)
	}

	return &domain.Scorecard{
		AccuracyScore:   normalizeScore(payload.AccuracyScore),
		MissingFields:   nonEmpty(payload.MissingFields),
		IncorrectFields: nonEmpty(payload.IncorrectFields),
		ImprovedPrompt:  strings.TrimSpace(payload.ImprovedPrompt),
		Receipt:         resp.Receipt,
	}, nil
}

// normalizeScore accepts scores given as percentages and clamps to [0, 1].
func normalizeScore(s float64) float64 {
	if s > 1 && s <= 100 {
		s /= 100
	}
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
