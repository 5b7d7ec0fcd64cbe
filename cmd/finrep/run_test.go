package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/service"
)

func setRunFlags(t *testing.T, out, batch string) {
	t.Helper()
	prevOut, prevBatch, prevRefs, prevSummary, prevID, prevCfg := outPath, batchPath, referencesPath, summaryPath, documentID, cfg
	t.Cleanup(func() {
		outPath, batchPath, referencesPath, summaryPath, documentID, cfg = prevOut, prevBatch, prevRefs, prevSummary, prevID, prevCfg
	})
	outPath, batchPath, referencesPath, summaryPath, documentID = out, batch, "", "", ""
}

func decodeResults(t *testing.T, raw []byte) []domain.RunResult {
	t.Helper()
	var results []domain.RunResult
	require.NoError(t, json.Unmarshal(raw, &results), string(raw))
	return results
}

func TestRunDocuments_PreflightFailureStillWritesResults(t *testing.T) {
	t.Setenv("FINREP_RECEIPTS_SIGNING_SECRET", "")
	loaded, err := config.Load()
	require.NoError(t, err)
	loaded.Agents.Path = "../../configs/agents.yaml"

	out := filepath.Join(t.TempDir(), "results.json")
	setRunFlags(t, out, "")
	cfg = loaded

	cmd := &cobra.Command{}
	err = runDocuments(cmd, []string{"s3://reports/brf-solen-2023.pdf"})

	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, service.ExitFailure, exit.code)
	assert.ErrorIs(t, exit.err, domain.ErrConfiguration)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	results := decodeResults(t, raw)
	require.Len(t, results, 1)
	assert.Equal(t, "s3://reports/brf-solen-2023.pdf", results[0].DocumentRef)
	assert.Equal(t, domain.DocumentStatusFailed, results[0].Status)
	require.Len(t, results[0].Errors, 1)
	assert.Equal(t, domain.ErrorKindConfiguration, results[0].Errors[0].Kind)
	assert.Contains(t, results[0].Errors[0].Details, "receipts.signing_secret is required")
}

func TestRunDocuments_MissingBatchWritesInputError(t *testing.T) {
	setRunFlags(t, "", filepath.Join(t.TempDir(), "missing.yaml"))

	var stdout bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	err := runDocuments(cmd, nil)

	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, service.ExitFailure, exit.code)

	results := decodeResults(t, stdout.Bytes())
	require.Len(t, results, 1)
	assert.Equal(t, domain.ErrorKindInput, results[0].Errors[0].Kind)
	assert.Contains(t, results[0].Errors[0].Message, "reading batch")
}
