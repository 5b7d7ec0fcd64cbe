// Package report renders run results as an Excel workbook or a CSV summary.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"finrep/internal/domain"
	"finrep/internal/tree"
)

const (
	SheetSummary    = "Summary"
	SheetFields     = "Fields"
	SheetViolations = "Violations"
	SheetReceipts   = "Receipts"
	SheetCoaching   = "Coaching"
)

var (
	violationColumns = []any{"Field", "Expected", "Actual", "Diff", "Message"}
	receiptColumns   = []any{"Call ID", "Kind", "Provider", "Model", "Transport", "HTTP Status", "Latency (ms)", "Prompt Hash", "Input Hash", "Response Hash", "Signature", "Error", "Timestamp"}
	coachingColumns  = []any{"Section", "Page", "Agent", "Round", "Success", "Accuracy", "Coverage", "Best", "Converged", "Prompt Evolved", "Prompt In", "Prompt Out"}
)

// WriteWorkbook writes an .xlsx with a summary sheet followed by the merged fields, gate
// violations, call receipts and coaching rounds of one run.
func WriteWorkbook(w io.Writer, res *domain.RunResult, receipts []domain.Receipt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetFields, SheetViolations, SheetReceipts, SheetCoaching} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	steps := []func(*excelize.File, *domain.RunResult, []domain.Receipt) error{
		writeSummary, writeFields, writeViolations, writeReceipts, writeCoaching,
	}
	for _, step := range steps {
		if err := step(f, res, receipts); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// rows writes a header and body starting at A1.
func rows(f *excelize.File, sheet string, header []any, body [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := range body {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &body[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(f *excelize.File, res *domain.RunResult, _ []domain.Receipt) error {
	gatePassed, checked, violations := "n/a", 0, 0
	if res.Gate != nil {
		gatePassed = formatBool(res.Gate.Passed)
		checked = res.Gate.Checked
		violations = len(res.Gate.Violations)
	}
	body := [][]any{
		{"Run ID", res.RunID.String()},
		{"Document", res.DocumentID},
		{"Reference", res.DocumentRef},
		{"Status", string(res.Status)},
		{"Gate Passed", gatePassed},
		{"References Checked", checked},
		{"Violations", violations},
		{"Started", formatTime(res.StartedAt)},
		{"Finished", formatTime(res.FinishedAt)},
	}
	for _, e := range res.Errors {
		body = append(body, []any{"Error (" + string(e.Kind) + ")", e.Message})
	}
	return rows(f, SheetSummary, []any{"Key", "Value"}, body)
}

func writeFields(f *excelize.File, res *domain.RunResult, _ []domain.Receipt) error {
	var body [][]any
	if res.Record != nil {
		for _, leaf := range tree.Flatten(res.Record.Data) {
			body = append(body, []any{leaf.Path, leaf.Value})
		}
	}
	return rows(f, SheetFields, []any{"Path", "Value"}, body)
}

func writeViolations(f *excelize.File, res *domain.RunResult, _ []domain.Receipt) error {
	var body [][]any
	if res.Gate != nil {
		for _, v := range res.Gate.Violations {
			body = append(body, []any{v.Field, v.Expected, v.Actual, v.Diff, v.Message})
		}
	}
	return rows(f, SheetViolations, violationColumns, body)
}

func writeReceipts(f *excelize.File, _ *domain.RunResult, receipts []domain.Receipt) error {
	body := make([][]any, 0, len(receipts))
	for _, r := range receipts {
		body = append(body, []any{
			r.CallID.String(), string(r.Kind), r.Provider, r.Model, string(r.Transport),
			r.HTTPStatus, r.LatencyMs, r.PromptHash, r.InputHash, r.ResponseHash,
			r.Signature, r.Error, formatTime(r.Timestamp),
		})
	}
	return rows(f, SheetReceipts, receiptColumns, body)
}

func writeCoaching(f *excelize.File, res *domain.RunResult, _ []domain.Receipt) error {
	var body [][]any
	if res.Record != nil {
		for _, o := range res.Record.Outcomes {
			for _, rd := range o.Rounds {
				accuracy := ""
				if rd.Scorecard != nil {
					accuracy = strconv.FormatFloat(rd.Scorecard.AccuracyScore, 'f', 2, 64)
				}
				body = append(body, []any{
					string(o.Section), o.Page, o.AgentID, rd.Round,
					formatBool(rd.Result.Success), accuracy,
					strconv.FormatFloat(rd.Coverage, 'f', 2, 64),
					formatBool(rd.Round == o.BestRound), formatBool(o.Converged), formatBool(o.PromptEvolved),
					truncate(rd.PromptIn), truncate(rd.PromptOut),
				})
			}
		}
	}
	return rows(f, SheetCoaching, coachingColumns, body)
}

// Excel caps a cell at 32767 characters.
func truncate(s string) string {
	const maxCell = 32000
	if len(s) <= maxCell {
		return s
	}
	return strings.ToValidUTF8(s[:maxCell], "")
}

func formatBool(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
