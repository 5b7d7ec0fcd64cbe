package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"finrep/internal/gate"
)

var referencesDocument string

func init() {
	referencesConvertCmd.Flags().StringVar(&referencesDocument, "document", "", "canary document id (defaults to the input file name)")
	referencesCmd.AddCommand(referencesConvertCmd)
	rootCmd.AddCommand(referencesCmd)
}

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Work with canary reference values",
}

var referencesConvertCmd = &cobra.Command{
	Use:   "convert <in.xlsx> <out.yaml>",
	Short: "Convert a reference workbook into a reference YAML file",
	Long: `Convert a reference workbook into a reference YAML file.

The first sheet needs a header row naming the columns field, kind, value,
rel_tolerance and abs_tolerance, in any order.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := gate.LoadReferences(args[0])
		if err != nil {
			return err
		}
		doc := referencesDocument
		if doc == "" {
			doc = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		raw, err := gate.MarshalReferenceYAML(doc, refs)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], raw, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", args[1], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d references to %s\n", len(refs), args[1])
		return nil
	},
}
