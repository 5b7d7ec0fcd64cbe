// Package orchestrator dispatches coaching jobs for a classified document and merges
// their results.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finrep/internal/coaching"
	"finrep/internal/domain"
	"finrep/internal/metrics"
	"finrep/internal/port"
)

const DefaultMaxParallelAgents = 4

// JobRunner runs one coaching job; *coaching.Loop implements it.
type JobRunner interface {
	Run(ctx context.Context, job coaching.Job) (*domain.CoachingOutcome, error)
}

type Options struct {
	MaxParallelAgents int
	AgentPriority     []string
}

// Orchestrator owns the merged tree of a document while it runs.
type Orchestrator struct {
	runner  JobRunner
	pages   port.PageSource
	metrics *metrics.Metrics
	opts    Options
}

// New creates an orchestrator. pages is used to route notes pages to note agents and may
// be nil, in which case every notes page goes to the general notes agent.
func New(runner JobRunner, pages port.PageSource, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.MaxParallelAgents <= 0 {
		opts.MaxParallelAgents = DefaultMaxParallelAgents
	}
	return &Orchestrator{runner: runner, pages: pages, metrics: m, opts: opts}
}

// Plan lists the coaching jobs for a section map: one per (section, agent) and, for notes,
// one per (page, note agent).
func (o *Orchestrator) Plan(ctx context.Context, runID uuid.UUID, doc *domain.Document, sections []domain.Section, caps *Capabilities) []coaching.Job {
	var jobs []coaching.Job
	for _, sec := range sections {
		if sec.Kind == domain.SectionNotes {
			jobs = append(jobs, o.planNotes(ctx, runID, doc, sec, caps)...)
			continue
		}
		for _, a := range caps.ForSection(sec.Kind) {
			jobs = append(jobs, coaching.Job{
				RunID:    runID,
				Document: doc,
				Section:  sec.Kind,
				Pages:    sec.Pages(),
				Agent:    a,
			})
		}
	}
	return jobs
}

func (o *Orchestrator) planNotes(ctx context.Context, runID uuid.UUID, doc *domain.Document, sec domain.Section, caps *Capabilities) []coaching.Job {
	if !caps.HasNotes() {
		return nil
	}
	var jobs []coaching.Job
	for _, page := range sec.Pages() {
		text := ""
		if o.pages != nil {
			t, err := o.pages.PageText(ctx, doc, page)
			if err != nil {
				zap.L().Warn("orchestrator.Plan: note page text unavailable",
					zap.String("document", doc.ID), zap.Int("page", page), zap.Error(err))
			}
			text = t
		}
		a, ok := caps.NoteAgentFor(text)
		if !ok {
			zap.L().Warn("orchestrator.Plan: no note agent for page",
				zap.String("document", doc.ID), zap.Int("page", page))
			continue
		}
		jobs = append(jobs, coaching.Job{
			RunID:    runID,
			Document: doc,
			Section:  domain.SectionNotes,
			Page:     page,
			Pages:    []int{page},
			Agent:    a,
		})
	}
	return jobs
}

// Run dispatches every job under the parallelism limit and deep-merges the outcomes in
// agent priority order. A failed job contributes nothing and is recorded in Failures.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, doc *domain.Document, sections []domain.Section, agents []domain.Agent) (*domain.DocumentRecord, error) {
	caps := BuildCapabilities(agents, o.opts.AgentPriority)
	jobs := o.Plan(ctx, runID, doc, sections, caps)

	zap.L().Info("orchestrator.Run: dispatching",
		zap.String("document", doc.ID),
		zap.Int("sections", len(sections)),
		zap.Int("jobs", len(jobs)),
		zap.Int("max_parallel", o.opts.MaxParallelAgents))

	outcomes := make([]*domain.CoachingOutcome, len(jobs))
	var (
		mu       sync.Mutex
		failures []domain.TaskFailure
	)

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxParallelAgents)
	for i, job := range jobs {
		g.Go(func() error {
			out, err := o.runner.Run(ctx, job)
			if err != nil {
				kind := domain.KindOf(err)
				zap.L().Warn("orchestrator.Run: task failed",
					zap.String("agent", job.Agent.ID),
					zap.String("section", string(job.Section)),
					zap.Int("page", job.Page),
					zap.String("kind", string(kind)),
					zap.Error(err))
				o.metrics.ObserveTaskFailure(string(kind))
				mu.Lock()
				failures = append(failures, domain.TaskFailure{
					AgentID: job.Agent.ID,
					Section: job.Section,
					Page:    job.Page,
					Kind:    kind,
					Error:   err.Error(),
				})
				mu.Unlock()
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("orchestrating %s: %w", doc.ID, err)
	}

	record := &domain.DocumentRecord{
		DocumentID: doc.ID,
		Sections:   sections,
		Failures:   sortFailures(failures),
	}

	order := make([]int, 0, len(jobs))
	for i, out := range outcomes {
		if out != nil {
			record.Outcomes = append(record.Outcomes, *out)
		}
		if out != nil && out.HasResult() {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		ja, jb := jobs[order[a]], jobs[order[b]]
		if ra, rb := caps.Rank(ja.Agent.ID), caps.Rank(jb.Agent.ID); ra != rb {
			return ra < rb
		}
		if ja.Agent.ID != jb.Agent.ID {
			return ja.Agent.ID < jb.Agent.ID
		}
		if ja.Section != jb.Section {
			return sectionIndex(ja.Section) < sectionIndex(jb.Section)
		}
		return ja.Page < jb.Page
	})

	merger := NewMerger()
	for _, i := range order {
		merger.Add(Contribution{AgentID: jobs[i].Agent.ID, Data: outcomes[i].Data})
	}
	record.Data = merger.Tree()
	record.Conflicts = merger.Conflicts()

	if len(jobs) > 0 && len(order) == 0 {
		msg := "no task produced data"
		if len(record.Failures) > 0 {
			msg = record.Failures[0].Error
		}
		return record, fmt.Errorf("orchestrating %s: %w: %s", doc.ID, domain.ErrEmptyExtraction, msg)
	}
	return record, nil
}

func sectionIndex(kind domain.SectionKind) int {
	for i, k := range domain.AllSectionKinds {
		if k == kind {
			return i
		}
	}
	return len(domain.AllSectionKinds)
}

func sortFailures(f []domain.TaskFailure) []domain.TaskFailure {
	sort.SliceStable(f, func(i, j int) bool {
		if f[i].Section != f[j].Section {
			return sectionIndex(f[i].Section) < sectionIndex(f[j].Section)
		}
		if f[i].Page != f[j].Page {
			return f[i].Page < f[j].Page
		}
		return f[i].AgentID < f[j].AgentID
	})
	return f
}
