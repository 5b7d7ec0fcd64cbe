package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finrep/internal/coaching"
	"finrep/internal/domain"
	"finrep/internal/orchestrator"
	"finrep/internal/port"
	"finrep/mocks"
)

func agents() []domain.Agent {
	mr := []domain.SectionKind{domain.SectionManagementReport}
	return []domain.Agent{
		{ID: "governance", Sections: mr, BasePrompt: "board", ExpectedFields: []string{"chairman"}},
		{ID: "property_info", Sections: mr, BasePrompt: "property", ExpectedFields: []string{"address"}},
		{ID: "maintenance", Sections: mr, BasePrompt: "maintenance", ExpectedFields: []string{"plan"}},
		{ID: "income_statement", Sections: []domain.SectionKind{domain.SectionIncomeStatement}, BasePrompt: "is", ExpectedFields: []string{"revenue"}},
		{ID: "balance_sheet", Sections: []domain.SectionKind{domain.SectionBalanceSheet}, BasePrompt: "bs", ExpectedFields: []string{"total_assets"}},
		{ID: "notes_loans", Sections: []domain.SectionKind{domain.SectionNotes}, BasePrompt: "loans", NoteKeywords: []string{"lån", "ränta", "kreditinstitut"}},
		{ID: "notes_buildings", Sections: []domain.SectionKind{domain.SectionNotes}, BasePrompt: "buildings", NoteKeywords: []string{"byggnader", "avskrivning"}},
		{ID: "notes_general", Sections: []domain.SectionKind{domain.SectionNotes}, BasePrompt: "notes"},
	}
}

// stubRunner returns canned data per agent and records every job it sees.
type stubRunner struct {
	mu       sync.Mutex
	jobs     []coaching.Job
	data     map[string]map[string]any
	fail     map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubRunner) Run(_ context.Context, job coaching.Job) (*domain.CoachingOutcome, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	out := &domain.CoachingOutcome{DocumentID: job.Document.ID, Section: job.Section, Page: job.Page, AgentID: job.Agent.ID, BestRound: -1}
	if err := s.fail[job.Agent.ID]; err != nil {
		return out, err
	}
	out.BestRound = 0
	out.Data = s.data[job.Agent.ID]
	if out.Data == nil {
		out.Data = map[string]any{job.Agent.ID: map[string]any{"page": float64(job.Page)}}
	}
	return out, nil
}

func sections() []domain.Section {
	return []domain.Section{
		{Kind: domain.SectionCover, StartPage: 1, EndPage: 1},
		{Kind: domain.SectionManagementReport, StartPage: 2, EndPage: 4},
		{Kind: domain.SectionIncomeStatement, StartPage: 5, EndPage: 5},
		{Kind: domain.SectionNotes, StartPage: 6, EndPage: 8},
	}
}

func TestBuildCapabilities_PriorityOrder(t *testing.T) {
	caps := orchestrator.BuildCapabilities(agents(), []string{"maintenance", "governance"})

	got := caps.ForSection(domain.SectionManagementReport)
	require.Len(t, got, 3)
	assert.Equal(t, "maintenance", got[0].ID)
	assert.Equal(t, "governance", got[1].ID)
	assert.Equal(t, "property_info", got[2].ID)
	assert.Empty(t, caps.ForSection(domain.SectionCover))
	assert.Less(t, caps.Rank("governance"), caps.Rank("income_statement"))
}

func TestCapabilities_NoteAgentFor(t *testing.T) {
	caps := orchestrator.BuildCapabilities(agents(), nil)

	a, ok := caps.NoteAgentFor("Not 7 Skulder till kreditinstitut. Lån med ränta 3,1 %")
	require.True(t, ok)
	assert.Equal(t, "notes_loans", a.ID)

	a, ok = caps.NoteAgentFor("Not 4 Byggnader och mark, ackumulerad avskrivning")
	require.True(t, ok)
	assert.Equal(t, "notes_buildings", a.ID)

	a, ok = caps.NoteAgentFor("Not 12 Händelser efter räkenskapsårets slut")
	require.True(t, ok)
	assert.Equal(t, "notes_general", a.ID)
}

func TestOrchestrator_PlansJobsPerSectionAndNotePage(t *testing.T) {
	pages := new(mocks.MockPageSource)
	doc := &domain.Document{ID: "doc", PageCount: 8}
	pages.On("PageText", mock.Anything, doc, 6).Return("Not 7 Lån hos kreditinstitut", nil)
	pages.On("PageText", mock.Anything, doc, 7).Return("Not 8 Byggnader", nil)
	pages.On("PageText", mock.Anything, doc, 8).Return("", errors.New("no text layer"))

	o := orchestrator.New(&stubRunner{}, pages, nil, orchestrator.Options{})
	caps := orchestrator.BuildCapabilities(agents(), nil)
	jobs := o.Plan(context.Background(), uuid.New(), doc, sections(), caps)

	var ids []string
	for _, j := range jobs {
		ids = append(ids, fmt.Sprintf("%s:%s:%d", j.Section, j.Agent.ID, j.Page))
	}
	assert.Equal(t, []string{
		"management_report:governance:0",
		"management_report:property_info:0",
		"management_report:maintenance:0",
		"income_statement:income_statement:0",
		"notes:notes_loans:6",
		"notes:notes_buildings:7",
		"notes:notes_general:8",
	}, ids)
	assert.Equal(t, []int{2, 3, 4}, jobs[0].Pages)
	assert.Equal(t, []int{6}, jobs[4].Pages)
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	runner := &stubRunner{fail: map[string]error{
		"property_info": &domain.TransportError{Provider: "claude", Err: context.DeadlineExceeded},
	}}
	o := orchestrator.New(runner, nil, nil, orchestrator.Options{MaxParallelAgents: 2})
	doc := &domain.Document{ID: "doc"}

	rec, err := o.Run(context.Background(), uuid.New(), doc, sections()[:3], agents())

	require.NoError(t, err)
	require.Len(t, rec.Failures, 1)
	assert.Equal(t, "property_info", rec.Failures[0].AgentID)
	assert.Equal(t, domain.ErrorKindTransport, rec.Failures[0].Kind)
	assert.Contains(t, rec.Data, "governance")
	assert.Contains(t, rec.Data, "income_statement")
	assert.NotContains(t, rec.Data, "property_info")
	assert.Len(t, rec.Outcomes, 4)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestOrchestrator_AllFailed(t *testing.T) {
	boom := &domain.TransportError{Provider: "claude", Err: errors.New("down")}
	runner := &stubRunner{fail: map[string]error{"income_statement": boom}}
	o := orchestrator.New(runner, nil, nil, orchestrator.Options{})

	rec, err := o.Run(context.Background(), uuid.New(), &domain.Document{ID: "doc"}, sections()[2:3], agents())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyExtraction))
	require.NotNil(t, rec)
	assert.Len(t, rec.Failures, 1)
}

func TestOrchestrator_ScalarConflictFollowsPriority(t *testing.T) {
	data := map[string]map[string]any{
		"governance":    {"association": map[string]any{"name": "Brf Solen", "org_nr": "769600-1234"}},
		"property_info": {"association": map[string]any{"name": "BRF SOLEN I STOCKHOLM", "city": "Stockholm"}},
		"maintenance":   {"association": map[string]any{"name": "Solen"}},
	}

	for _, priority := range [][]string{
		{"property_info", "governance", "maintenance"},
		{"property_info", "maintenance", "governance"},
	} {
		runner := &stubRunner{data: data}
		o := orchestrator.New(runner, nil, nil, orchestrator.Options{MaxParallelAgents: 3, AgentPriority: priority})

		rec, err := o.Run(context.Background(), uuid.New(), &domain.Document{ID: "doc"}, sections()[1:2], agents())

		require.NoError(t, err)
		assoc := rec.Data["association"].(map[string]any)
		assert.Equal(t, "BRF SOLEN I STOCKHOLM", assoc["name"])
		assert.Equal(t, "769600-1234", assoc["org_nr"])
		assert.Equal(t, "Stockholm", assoc["city"])
		require.Len(t, rec.Conflicts, 2)
		for _, c := range rec.Conflicts {
			assert.Equal(t, "association.name", c.Path)
			assert.Equal(t, "property_info", c.KeptAgent)
		}
	}
}

func TestDeepMerge_OrderIndependentForDisjointAgents(t *testing.T) {
	a := orchestrator.Contribution{AgentID: "a", Data: map[string]any{
		"income_statement": map[string]any{"revenue": 100.0},
		"board":            []any{"Anna"},
	}}
	b := orchestrator.Contribution{AgentID: "b", Data: map[string]any{
		"income_statement": map[string]any{"costs": -80.0},
		"loans":            []any{map[string]any{"lender": "SEB"}},
	}}

	ab, abConflicts := orchestrator.DeepMerge([]orchestrator.Contribution{a, b})
	ba, baConflicts := orchestrator.DeepMerge([]orchestrator.Contribution{b, a})

	assert.Equal(t, ab, ba)
	assert.Empty(t, abConflicts)
	assert.Empty(t, baConflicts)
	assert.Equal(t, map[string]any{"revenue": 100.0, "costs": -80.0}, ab["income_statement"])
}

func TestDeepMerge_ListsConcatenateAndInputsStayUntouched(t *testing.T) {
	first := map[string]any{"loans": []any{map[string]any{"lender": "SEB"}}}
	second := map[string]any{"loans": []any{map[string]any{"lender": "Nordea"}}}

	merged, conflicts := orchestrator.DeepMerge([]orchestrator.Contribution{
		{AgentID: "notes_loans", Data: first},
		{AgentID: "notes_loans", Data: second},
	})

	assert.Empty(t, conflicts)
	assert.Len(t, merged["loans"], 2)
	assert.Len(t, first["loans"], 1)

	merged["loans"].([]any)[0].(map[string]any)["lender"] = "changed"
	assert.Equal(t, "SEB", first["loans"].([]any)[0].(map[string]any)["lender"])
}

func TestDeepMerge_EqualScalarsAreNotConflicts(t *testing.T) {
	_, conflicts := orchestrator.DeepMerge([]orchestrator.Contribution{
		{AgentID: "a", Data: map[string]any{"year": 2023.0}},
		{AgentID: "b", Data: map[string]any{"year": 2023.0}},
	})
	assert.Empty(t, conflicts)
}

// scriptedBackend extracts one key per agent and scores every evaluation 0.92.
type scriptedBackend struct {
	calls atomic.Int32
}

func (s *scriptedBackend) Extract(_ context.Context, task domain.ExtractionTask, _ *domain.Document) (*domain.ExtractionResult, error) {
	s.calls.Add(1)
	return &domain.ExtractionResult{TaskID: task.ID, Success: true, Data: map[string]any{task.AgentID: map[string]any{"pages": float64(len(task.Pages))}}}, nil
}

func (s *scriptedBackend) Evaluate(_ context.Context, _ port.EvaluationInput) (*domain.Scorecard, error) {
	return &domain.Scorecard{AccuracyScore: 0.92}, nil
}

func TestOrchestrator_EndToEndConvergesInOneRound(t *testing.T) {
	backend := &scriptedBackend{}
	loop := coaching.NewLoop(backend, backend, nil, nil, nil, coaching.Options{MaxRounds: 3, TargetAccuracy: 0.85})
	o := orchestrator.New(loop, nil, nil, orchestrator.Options{MaxParallelAgents: 4})
	doc := &domain.Document{ID: "brf-10", PageCount: 10}
	secs := []domain.Section{
		{Kind: domain.SectionCover, StartPage: 1, EndPage: 1},
		{Kind: domain.SectionManagementReport, StartPage: 2, EndPage: 5},
		{Kind: domain.SectionIncomeStatement, StartPage: 6, EndPage: 7},
		{Kind: domain.SectionBalanceSheet, StartPage: 8, EndPage: 10},
	}

	rec, err := o.Run(context.Background(), uuid.New(), doc, secs, agents())

	require.NoError(t, err)
	require.Len(t, rec.Outcomes, 5)
	mr := 0
	for _, out := range rec.Outcomes {
		assert.Equal(t, 1, out.RoundCount())
		assert.True(t, out.Converged)
		if out.Section == domain.SectionManagementReport {
			mr++
		}
	}
	assert.Equal(t, 3, mr)
	assert.Equal(t, int32(5), backend.calls.Load())
	assert.Equal(t, map[string]any{"pages": 4.0}, rec.Data["governance"])
}
