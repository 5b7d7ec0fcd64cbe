package domain

import "strings"

// SectionKind is the closed vocabulary of canonical report sections.
type SectionKind string

const (
	SectionCover             SectionKind = "cover"
	SectionManagementReport  SectionKind = "management_report"
	SectionIncomeStatement   SectionKind = "income_statement"
	SectionBalanceSheet      SectionKind = "balance_sheet"
	SectionCashFlow          SectionKind = "cash_flow"
	SectionEquityChanges     SectionKind = "equity_changes"
	SectionMultiYearOverview SectionKind = "multi_year_overview"
	SectionNotes             SectionKind = "notes"
	SectionSignatures        SectionKind = "signatures"
	SectionAuditorReport     SectionKind = "auditor_report"
	SectionOther             SectionKind = "other"
)

// AllSectionKinds lists every section kind in canonical report order.
var AllSectionKinds = []SectionKind{
	SectionCover,
	SectionManagementReport,
	SectionIncomeStatement,
	SectionBalanceSheet,
	SectionCashFlow,
	SectionEquityChanges,
	SectionMultiYearOverview,
	SectionNotes,
	SectionSignatures,
	SectionAuditorReport,
	SectionOther,
}

// ParseSectionKind maps a label (case and separator insensitive) to a SectionKind.
func ParseSectionKind(s string) (SectionKind, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, k := range AllSectionKinds {
		if string(k) == norm {
			return k, true
		}
	}
	return "", false
}

// Valid reports whether k belongs to the canonical vocabulary.
func (k SectionKind) Valid() bool {
	_, ok := ParseSectionKind(string(k))
	return ok
}

// DocumentStatus represents the lifecycle of a document within a run.
type DocumentStatus string

const (
	DocumentStatusPending     DocumentStatus = "pending"
	DocumentStatusClassifying DocumentStatus = "classifying"
	DocumentStatusExtracting  DocumentStatus = "extracting"
	DocumentStatusValidating  DocumentStatus = "validating"
	DocumentStatusCompleted   DocumentStatus = "completed"
	DocumentStatusGateFailed  DocumentStatus = "gate_failed"
	DocumentStatusFailed      DocumentStatus = "failed"
)

// RunStatus represents the lifecycle of a queued run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusPassed     RunStatus = "passed"
	RunStatusFailed     RunStatus = "failed"
)

// CallKind identifies which pipeline stage issued a backend call.
type CallKind string

const (
	CallKindClassify CallKind = "classify"
	CallKindExtract  CallKind = "extract"
	CallKindEvaluate CallKind = "evaluate"
)

// Transport identifies how a backend was reached.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportLocal Transport = "local"
)

// ErrorKind is the machine-readable error taxonomy carried in run results.
type ErrorKind string

const (
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindSchema            ErrorKind = "schema"
	ErrorKindAccuracyShortfall ErrorKind = "accuracy_shortfall"
	ErrorKindGateViolation     ErrorKind = "gate_violation"
	ErrorKindConfiguration     ErrorKind = "configuration"
	ErrorKindInput             ErrorKind = "input"
	ErrorKindInternal          ErrorKind = "internal"
)

// ReferenceKind selects the comparison rule for a reference value.
type ReferenceKind string

const (
	ReferenceNumeric ReferenceKind = "numeric"
	ReferenceText    ReferenceKind = "text"
)
