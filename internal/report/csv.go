package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"finrep/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// summaryColumns defines the CSV header row of a batch summary.
var summaryColumns = []string{
	"Document",
	"Reference",
	"Run ID",
	"Status",
	"Gate Passed",
	"References Checked",
	"Violations",
	"Failed Tasks",
	"Low Confidence Loops",
	"Merge Conflicts",
	"Errors",
	"Started At",
	"Finished At",
}

// SummaryWriter writes one CSV row per processed document.
type SummaryWriter struct {
	csv *csv.Writer
}

// NewSummaryWriter creates a SummaryWriter that writes CSV to w.
func NewSummaryWriter(w io.Writer) *SummaryWriter {
	return &SummaryWriter{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *SummaryWriter) WriteHeader() error {
	return w.csv.Write(summaryColumns)
}

// WriteResults converts results to rows and writes them.
func (w *SummaryWriter) WriteResults(results []*domain.RunResult) error {
	for _, res := range results {
		if err := w.csv.Write(resultToRow(res)); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer and returns its error.
func (w *SummaryWriter) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

func resultToRow(res *domain.RunResult) []string {
	row := make([]string, len(summaryColumns))
	row[0] = res.DocumentID
	row[1] = res.DocumentRef
	row[2] = res.RunID.String()
	row[3] = string(res.Status)
	if res.Gate != nil {
		row[4] = formatBool(res.Gate.Passed)
		row[5] = strconv.Itoa(res.Gate.Checked)
		row[6] = strconv.Itoa(len(res.Gate.Violations))
	}
	if rec := res.Record; rec != nil {
		low := 0
		for _, o := range rec.Outcomes {
			if o.LowConfidence {
				low++
			}
		}
		row[7] = strconv.Itoa(len(rec.Failures))
		row[8] = strconv.Itoa(low)
		row[9] = strconv.Itoa(len(rec.Conflicts))
	}
	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		msgs = append(msgs, string(e.Kind)+": "+e.Message)
	}
	row[10] = strings.Join(msgs, " | ")
	row[11] = formatTime(res.StartedAt)
	row[12] = formatTime(res.FinishedAt)
	return row
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a document id for use in Content-Disposition.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "run"
	}
	return s
}

// BuildFilename returns "{document}_{YYYY-MM-DD}.{ext}".
func BuildFilename(documentID string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeFilename(documentID), at.Format("2006-01-02"), ext)
}
