package extraction_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finrep/internal/domain"
	"finrep/internal/extraction"
	"finrep/internal/port"
	"finrep/mocks"
)

func newTask() domain.ExtractionTask {
	return domain.ExtractionTask{
		ID:             uuid.New(),
		RunID:          uuid.New(),
		DocumentID:     "brf-solen-2023",
		Section:        domain.SectionIncomeStatement,
		AgentID:        "income_statement",
		Prompt:         "Extract the income statement.",
		Pages:          []int{5, 6},
		ExpectedFields: []string{"revenue", "operating_costs"},
	}
}

func TestModelExtractor_Success(t *testing.T) {
	client := new(mocks.MockModelClient)
	raster := new(mocks.MockRasterizer)
	doc := &domain.Document{ID: "brf-solen-2023"}
	task := newTask()
	rec := &domain.Receipt{CallID: uuid.New()}

	raster.On("Render", mock.Anything, doc, 5, 150).Return([]byte("p5"), nil)
	raster.On("Render", mock.Anything, doc, 6, 150).Return([]byte("p6"), nil)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req port.ModelRequest) bool {
		return req.Kind == domain.CallKindExtract &&
			req.RunID == task.RunID &&
			len(req.Images) == 2 &&
			strings.Contains(req.Prompt, "Extract the income statement.") &&
			strings.Contains(req.Prompt, "pages 5-6")
	})).Return(&port.ModelResponse{
		Text:    `{"data": {"revenue": 4512000, "operating_costs": -3100000}}`,
		Receipt: rec,
	}, nil)

	res, err := extraction.NewModelExtractor(client, raster, 0).Extract(context.Background(), task, doc)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, task.ID, res.TaskID)
	assert.Equal(t, 4512000.0, res.Data["revenue"])
	assert.Same(t, rec, res.Receipt)
	require.Len(t, res.ParseAttempts, 1)
	assert.Equal(t, "strict", res.ParseAttempts[0].Strategy)
	client.AssertExpectations(t)
	raster.AssertExpectations(t)
}

func TestModelExtractor_UnparseableIsFailedResult(t *testing.T) {
	client := new(mocks.MockModelClient)
	raster := new(mocks.MockRasterizer)
	doc := &domain.Document{ID: "doc"}

	raster.On("Render", mock.Anything, doc, mock.Anything, 150).Return([]byte("png"), nil)
	client.On("Complete", mock.Anything, mock.Anything).
		Return(&port.ModelResponse{Text: "I could not read the page."}, nil)

	res, err := extraction.NewModelExtractor(client, raster, 150).Extract(context.Background(), newTask(), doc)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.ParseAttempts, 3)
	assert.NotEmpty(t, res.Error)
}

func TestModelExtractor_TransportErrorKeepsReceipt(t *testing.T) {
	client := new(mocks.MockModelClient)
	raster := new(mocks.MockRasterizer)
	doc := &domain.Document{ID: "doc"}
	rec := &domain.Receipt{CallID: uuid.New(), HTTPStatus: 503}

	raster.On("Render", mock.Anything, doc, mock.Anything, 150).Return([]byte("png"), nil)
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, &domain.TransportError{Provider: "claude", Status: 503, Receipt: rec, Err: errors.New("unavailable")})

	res, err := extraction.NewModelExtractor(client, raster, 150).Extract(context.Background(), newTask(), doc)

	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindTransport, domain.KindOf(err))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Same(t, rec, res.Receipt)
}

func TestModelExtractor_EmptyObject(t *testing.T) {
	client := new(mocks.MockModelClient)
	raster := new(mocks.MockRasterizer)
	doc := &domain.Document{ID: "doc"}

	raster.On("Render", mock.Anything, doc, mock.Anything, 150).Return([]byte("png"), nil)
	client.On("Complete", mock.Anything, mock.Anything).Return(&port.ModelResponse{Text: `{"data": {}}`}, nil)

	res, err := extraction.NewModelExtractor(client, raster, 150).Extract(context.Background(), newTask(), doc)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrEmptyExtraction.Error(), res.Error)
}

func TestModelEvaluator_Scorecard(t *testing.T) {
	client := new(mocks.MockModelClient)
	runID := uuid.New()

	client.On("Complete", mock.Anything, mock.MatchedBy(func(req port.ModelRequest) bool {
		return req.Kind == domain.CallKindEvaluate && req.RunID == runID && strings.Contains(req.Prompt, "- revenue")
	})).Return(&port.ModelResponse{Text: "```json\n" + `{
		"accuracy_score": 72,
		"missing_fields": ["operating_costs", " "],
		"incorrect_fields": [],
		"improved_prompt": "  Extract the income statement.\nInclude operating costs.  "
	}` + "\n```"}, nil)

	card, err := extraction.NewModelEvaluator(client).Evaluate(context.Background(), port.EvaluationInput{
		RunID:          runID,
		Section:        domain.SectionIncomeStatement,
		Data:           map[string]any{"revenue": 4512000.0},
		ExpectedFields: []string{"revenue", "operating_costs"},
		Prompt:         "Extract the income statement.",
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.72, card.AccuracyScore, 1e-9)
	assert.Equal(t, []string{"operating_costs"}, card.MissingFields)
	assert.Empty(t, card.IncorrectFields)
	assert.Equal(t, "Extract the income statement.\nInclude operating costs.", card.ImprovedPrompt)
}

func TestModelEvaluator_SchemaError(t *testing.T) {
	client := new(mocks.MockModelClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(&port.ModelResponse{Text: "looks good"}, nil)

	_, err := extraction.NewModelEvaluator(client).Evaluate(context.Background(), port.EvaluationInput{Section: domain.SectionNotes})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindSchema, domain.KindOf(err))
}

func TestCoverageRatio(t *testing.T) {
	data := map[string]any{
		"income_statement": map[string]any{
			"revenue":  4512000.0,
			"interest": "",
		},
		"loans": []any{map[string]any{"lender": "SEB"}},
	}

	assert.InDelta(t, 0.5, extraction.CoverageRatio(data, []string{"revenue", "interest"}), 1e-9)
	assert.InDelta(t, 1.0, extraction.CoverageRatio(data, []string{"income_statement.revenue", "loans[0].lender"}), 1e-9)
	assert.InDelta(t, 0.0, extraction.CoverageRatio(data, []string{"income_statement.costs"}), 1e-9)
	assert.Zero(t, extraction.CoverageRatio(data, nil))
}

func TestBuildExtractionPrompt_Pages(t *testing.T) {
	p := extraction.BuildExtractionPrompt("x", domain.SectionNotes, []int{3, 7, 9}, nil)
	assert.Contains(t, p, "pages 3, 7, 9")
	assert.Contains(t, p, "Return ONLY valid JSON")
}
