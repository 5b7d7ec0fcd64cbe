package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is one scanned report being processed. Content is owned by the
// external object store and loaded for the duration of a run only.
type Document struct {
	ID        string         `json:"id"`
	RunID     uuid.UUID      `json:"run_id,omitempty"`
	Ref       string         `json:"ref"`
	PageCount int            `json:"page_count"`
	Status    DocumentStatus `json:"status"`
	Content   []byte         `json:"-"`
}

// CacheKey scopes per-document caches to one run.
func (d *Document) CacheKey() string {
	if d.RunID == uuid.Nil {
		return d.ID
	}
	return d.RunID.String() + "/" + d.ID
}

// Section is a contiguous, labeled page range. Pages are 1-based and inclusive.
type Section struct {
	Kind        SectionKind `json:"name"`
	Title       string      `json:"title,omitempty"`
	StartPage   int         `json:"start_page"`
	EndPage     int         `json:"end_page"`
	Confidence  float64     `json:"confidence"`
	Subsections []Section   `json:"subsections,omitempty"`
}

// Pages returns the page numbers covered by the section in ascending order.
func (s Section) Pages() []int {
	if s.EndPage < s.StartPage {
		return nil
	}
	pages := make([]int, 0, s.EndPage-s.StartPage+1)
	for p := s.StartPage; p <= s.EndPage; p++ {
		pages = append(pages, p)
	}
	return pages
}

// PageLabel is a classifier's verdict for a single page.
type PageLabel struct {
	Kind       SectionKind `json:"section"`
	Confidence float64     `json:"confidence"`
	Headers    []RawHeader `json:"headers,omitempty"`
}

// Agent is an extraction capability bound to a prompt and an expected-field checklist.
type Agent struct {
	ID                  string        `yaml:"id" json:"agent_id"`
	Sections            []SectionKind `yaml:"sections" json:"canonical_sections"`
	BasePrompt          string        `yaml:"prompt" json:"base_prompt"`
	ExpectedFields      []string      `yaml:"expected_fields" json:"expected_fields"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	NoteKeywords        []string      `yaml:"note_keywords,omitempty" json:"note_keywords,omitempty"`
	PromptHash          string        `yaml:"-" json:"prompt_hash,omitempty"`
	UpdatedAt           time.Time     `yaml:"-" json:"updated_at,omitempty"`
}

// HandlesSection reports whether the agent declares kind among its canonical sections.
func (a *Agent) HandlesSection(kind SectionKind) bool {
	for _, k := range a.Sections {
		if k == kind {
			return true
		}
	}
	return false
}

// ExtractionTask is consumed exactly once by a backend call.
type ExtractionTask struct {
	ID         uuid.UUID   `json:"task_id"`
	RunID      uuid.UUID   `json:"run_id"`
	DocumentID string      `json:"document_id"`
	Section    SectionKind `json:"section"`
	AgentID    string      `json:"agent_id"`
	Prompt     string      `json:"prompt"`
	Pages      []int       `json:"pages"`
	Round      int         `json:"round_number"`

	ExpectedFields []string `json:"expected_fields,omitempty"`
}

// ParseAttempt records one step of the model-output parsing chain.
type ParseAttempt struct {
	Strategy string `json:"strategy"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// ExtractionResult is the outcome of one extraction call.
type ExtractionResult struct {
	TaskID        uuid.UUID      `json:"task_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Receipt       *Receipt       `json:"receipt,omitempty"`
	ParseAttempts []ParseAttempt `json:"parse_attempts,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Scorecard is the evaluator's judgement of one extraction.
type Scorecard struct {
	AccuracyScore   float64  `json:"accuracy_score"`
	MissingFields   []string `json:"missing_fields"`
	IncorrectFields []string `json:"incorrect_fields"`
	ImprovedPrompt  string   `json:"improved_prompt,omitempty"`
	Receipt         *Receipt `json:"receipt,omitempty"`
}

// CoachingRound is one extract/evaluate/refine iteration.
type CoachingRound struct {
	Round     int              `json:"round_number"`
	PromptIn  string           `json:"prompt_in"`
	PromptOut string           `json:"prompt_out,omitempty"`
	Result    ExtractionResult `json:"result"`
	Scorecard *Scorecard       `json:"scorecard,omitempty"`
	Coverage  float64          `json:"coverage"`
}

// CoachingOutcome is the final state of one coaching loop.
type CoachingOutcome struct {
	DocumentID    string          `json:"document_id"`
	Section       SectionKind     `json:"section"`
	Page          int             `json:"page,omitempty"`
	AgentID       string          `json:"agent_id"`
	Rounds        []CoachingRound `json:"rounds"`
	BestRound     int             `json:"best_round"`
	BestAccuracy  float64         `json:"best_accuracy"`
	BestCoverage  float64         `json:"best_coverage"`
	Converged     bool            `json:"converged"`
	LowConfidence bool            `json:"low_confidence"`
	PromptEvolved bool            `json:"prompt_evolved"`
	Data          map[string]any  `json:"data,omitempty"`
}

// RoundCount is the number of rounds executed.
func (o *CoachingOutcome) RoundCount() int {
	return len(o.Rounds)
}

// HasResult reports whether any round produced usable data.
func (o *CoachingOutcome) HasResult() bool {
	return o.BestRound >= 0 && o.Data != nil
}

// CoachingHistoryEntry is one append-only coaching log record, keyed by its content hash.
type CoachingHistoryEntry struct {
	ContentHash string      `db:"content_hash" json:"content_hash"`
	RunID       uuid.UUID   `db:"run_id" json:"run_id"`
	DocumentID  string      `db:"document_id" json:"document_id"`
	Section     SectionKind `db:"section" json:"section"`
	Page        int         `db:"page" json:"page"`
	AgentID     string      `db:"agent_id" json:"agent_id"`
	Round       int         `db:"round_number" json:"round_number"`
	PromptIn    string      `db:"prompt_in" json:"prompt_in"`
	PromptOut   string      `db:"prompt_out" json:"prompt_out"`
	Accuracy    float64     `db:"accuracy" json:"accuracy"`
	Coverage    float64     `db:"coverage" json:"coverage"`
	Success     bool        `db:"success" json:"success"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Receipt is an immutable, signed audit record of one backend call.
type Receipt struct {
	CallID       uuid.UUID `db:"call_id" json:"call_id"`
	RunID        uuid.UUID `db:"run_id" json:"run_id"`
	Kind         CallKind  `db:"kind" json:"kind"`
	Provider     string    `db:"provider" json:"provider"`
	Model        string    `db:"model" json:"model"`
	Transport    Transport `db:"transport" json:"transport"`
	HTTPStatus   int       `db:"http_status" json:"http_status"`
	LatencyMs    int64     `db:"latency_ms" json:"latency_ms"`
	PromptHash   string    `db:"prompt_hash" json:"prompt_hash"`
	InputHash    string    `db:"input_hash" json:"input_hash"`
	ResponseHash string    `db:"response_hash" json:"response_hash"`
	Signature    string    `db:"signature" json:"signature"`
	Error        string    `db:"error" json:"error,omitempty"`
	Timestamp    time.Time `db:"created_at" json:"timestamp"`
}

// Succeeded reports whether the recorded call returned a usable response.
func (r *Receipt) Succeeded() bool {
	return r.Error == "" && r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// RawHeader is a heading candidate as emitted by a classifier.
type RawHeader struct {
	Text       string  `json:"text"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
}

// Header is a cleaned, leveled heading built by the header post-filter.
type Header struct {
	Text       string   `json:"text"`
	Level      int      `json:"level"`
	Page       int      `json:"page"`
	Confidence float64  `json:"confidence"`
	MergeCount int      `json:"merge_count"`
	NoteNumber int      `json:"note_number,omitempty"`
	Children   []Header `json:"children,omitempty"`
}

// ReferenceValue is one known-good value for a canary document.
type ReferenceValue struct {
	Field        string        `yaml:"field" json:"field"`
	Kind         ReferenceKind `yaml:"kind" json:"kind"`
	Number       float64       `yaml:"number" json:"number,omitempty"`
	Text         string        `yaml:"text" json:"text,omitempty"`
	RelTolerance *float64      `yaml:"rel_tolerance,omitempty" json:"rel_tolerance,omitempty"`
	AbsTolerance *float64      `yaml:"abs_tolerance,omitempty" json:"abs_tolerance,omitempty"`
}

// Violation describes one reference mismatch.
type Violation struct {
	Field    string  `json:"field"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Diff     float64 `json:"diff"`
	Message  string  `json:"message"`
}

// GateResult is the all-or-nothing acceptance verdict for a document.
type GateResult struct {
	Passed     bool        `json:"passed"`
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations"`
}

// TaskFailure records a task that contributed nothing to the merge.
type TaskFailure struct {
	AgentID string      `json:"agent_id"`
	Section SectionKind `json:"section"`
	Page    int         `json:"page,omitempty"`
	Kind    ErrorKind   `json:"kind"`
	Error   string      `json:"error"`
}

// MergeConflict records a scalar collision resolved by agent priority.
type MergeConflict struct {
	Path         string `json:"path"`
	KeptAgent    string `json:"kept_agent"`
	DroppedAgent string `json:"dropped_agent"`
}

// DocumentRecord is the merged extraction output for one document.
type DocumentRecord struct {
	DocumentID string            `json:"document_id"`
	Sections   []Section         `json:"sections"`
	Headers    []Header          `json:"headers,omitempty"`
	Data       map[string]any    `json:"data"`
	Outcomes   []CoachingOutcome `json:"outcomes"`
	Failures   []TaskFailure     `json:"failures,omitempty"`
	Conflicts  []MergeConflict   `json:"conflicts,omitempty"`
}

// RunError is one entry of the machine-readable error report.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// RunResult is the machine-readable result of processing one document.
type RunResult struct {
	RunID       uuid.UUID        `json:"run_id"`
	DocumentID  string           `json:"document_id"`
	DocumentRef string           `json:"document_ref"`
	Status      DocumentStatus   `json:"status"`
	Record      *DocumentRecord  `json:"record,omitempty"`
	Gate        *GateResult      `json:"gate,omitempty"`
	Errors      []RunError       `json:"errors,omitempty"`
	References  []ReferenceValue `json:"-"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Passed reports whether the document cleared its acceptance gate.
func (r *RunResult) Passed() bool {
	return r.Status == DocumentStatusCompleted && r.Gate != nil && r.Gate.Passed
}

// RunRequest is a queued request to process one document.
type RunRequest struct {
	ID          uuid.UUID        `json:"id"`
	DocumentID  string           `json:"document_id"`
	DocumentRef string           `json:"document_ref"`
	References  []ReferenceValue `json:"references,omitempty"`
	Status      RunStatus        `json:"status"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
