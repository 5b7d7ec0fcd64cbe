package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"finrep/internal/app"
	"finrep/internal/domain"
	"finrep/internal/gate"
	"finrep/internal/report"
	"finrep/internal/service"
)

var (
	referencesPath string
	batchPath      string
	outPath        string
	summaryPath    string
	documentID     string
)

func init() {
	runCmd.Flags().StringVar(&referencesPath, "references", "", "reference values (.yaml or .xlsx) for a single document")
	runCmd.Flags().StringVar(&batchPath, "batch", "", "batch YAML listing documents and their reference files")
	runCmd.Flags().StringVar(&documentID, "id", "", "document id for a single document (defaults to the reference)")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "write run results as JSON here instead of stdout")
	runCmd.Flags().StringVar(&summaryPath, "summary-csv", "", "also write a one-row-per-document CSV summary")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [document-ref...]",
	Short: "Process documents and check them against their reference values",
	Long: `Process one or more documents end to end: classify, extract under coaching,
merge and gate.

A document reference is either s3://bucket/key, a bare key in the configured bucket,
or a local file path.

Exit status is 0 when every document passed its gate, 2 when at least one failed
its gate and 1 on any other failure.

Examples:
  # One canary document with reference values
  finrep run --references refs/brf-solen-2023.yaml s3://reports/brf-solen-2023.pdf

  # A batch
  finrep run --batch canaries.yaml --summary-csv summary.csv`,
	RunE: runDocuments,
}

// batchFile is the on-disk shape of a batch.
type batchFile struct {
	Documents []struct {
		ID         string `yaml:"id"`
		Ref        string `yaml:"ref"`
		References string `yaml:"references"`
	} `yaml:"documents"`
}

func runDocuments(cmd *cobra.Command, args []string) error {
	items, err := batchItems(args)
	if err != nil {
		return abortRun(cmd, nil, err)
	}

	agents, err := app.Preflight(cfg)
	if err != nil {
		return abortRun(cmd, items, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, agents)
	if err != nil {
		return abortRun(cmd, items, err)
	}
	defer a.Close()

	results := a.Service.RunBatch(ctx, items)

	if err := writeResults(cmd.OutOrStdout(), results); err != nil {
		return &exitError{code: service.ExitFailure, err: err}
	}
	if summaryPath != "" {
		if err := writeSummary(summaryPath, results); err != nil {
			return &exitError{code: service.ExitFailure, err: err}
		}
	}

	if code := service.ExitCode(results); code != service.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// abortRun emits failed results (and the summary) for a batch that never started.
func abortRun(cmd *cobra.Command, items []service.BatchItem, err error) error {
	results := service.FailedResults(items, err)
	if werr := writeResults(cmd.OutOrStdout(), results); werr != nil {
		err = errors.Join(err, werr)
	}
	if summaryPath != "" {
		if werr := writeSummary(summaryPath, results); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return &exitError{code: service.ExitFailure, err: err}
}

func batchItems(args []string) ([]service.BatchItem, error) {
	if batchPath != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("%w: --batch cannot be combined with document arguments", domain.ErrInvalidInput)
		}
		return loadBatch(batchPath)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no documents given", domain.ErrInvalidInput)
	}
	if len(args) > 1 && (referencesPath != "" || documentID != "") {
		return nil, fmt.Errorf("%w: --references and --id apply to a single document; use --batch", domain.ErrInvalidInput)
	}

	var refs []domain.ReferenceValue
	if referencesPath != "" {
		loaded, err := gate.LoadReferences(referencesPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		refs = loaded
	}
	items := make([]service.BatchItem, 0, len(args))
	for _, ref := range args {
		items = append(items, service.BatchItem{DocumentID: documentID, DocumentRef: ref, References: refs})
	}
	return items, nil
}

// loadBatch reads a batch file. Relative reference paths resolve against the batch file.
func loadBatch(path string) ([]service.BatchItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading batch %s: %w", domain.ErrInvalidInput, path, err)
	}
	var file batchFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: decoding batch %s: %w", domain.ErrInvalidInput, path, err)
	}
	if len(file.Documents) == 0 {
		return nil, fmt.Errorf("%w: batch %s lists no documents", domain.ErrInvalidInput, path)
	}

	base := filepath.Dir(path)
	items := make([]service.BatchItem, 0, len(file.Documents))
	for _, d := range file.Documents {
		item := service.BatchItem{DocumentID: d.ID, DocumentRef: d.Ref}
		if d.References != "" {
			refPath := d.References
			if !filepath.IsAbs(refPath) {
				refPath = filepath.Join(base, refPath)
			}
			refs, err := gate.LoadReferences(refPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidInput, d.ID, err)
			}
			item.References = refs
		}
		items = append(items, item)
	}
	return items, nil
}

func writeResults(stdout io.Writer, results []*domain.RunResult) error {
	w := stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeSummary(path string, results []*domain.RunResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(report.BOM); err != nil {
		return err
	}
	w := report.NewSummaryWriter(f)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.WriteResults(results); err != nil {
		return err
	}
	return w.Flush()
}
