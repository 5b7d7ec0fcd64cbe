package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"finrep/internal/app"
	"finrep/internal/report"
	"finrep/internal/service"
)

var reportOut string

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output .xlsx path (defaults to <document>_<date>.xlsx)")
	rootCmd.AddCommand(verifyCmd, reportCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <run-id>",
	Short: "Re-check the signature of every receipt stored for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		agents, err := app.Preflight(cfg)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, agents)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Service.VerifyRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s: %d receipts, %d valid, %d failed calls\n", rep.RunID, rep.Total, rep.Valid, rep.Failed)
		for _, id := range rep.Invalid {
			fmt.Fprintf(out, "  invalid signature: %s\n", id)
		}
		if !rep.Verified {
			return &exitError{code: service.ExitFailure, err: fmt.Errorf("run %s could not be verified", rep.RunID)}
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Write the Excel report of a finished run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		agents, err := app.Preflight(cfg)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, agents)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		_, res, err := a.Service.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("run %s has not finished", runID)
		}
		receipts, err := a.Service.ListReceipts(ctx, runID)
		if err != nil {
			return err
		}

		path := reportOut
		if path == "" {
			path = report.BuildFilename(res.DocumentID, res.FinishedAt, "xlsx")
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		if err := report.WriteWorkbook(f, res, receipts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}
