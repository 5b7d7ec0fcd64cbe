package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"finrep/internal/app"
	"finrep/internal/domain"
	"finrep/internal/service"
)

func init() {
	rootCmd.AddCommand(preflightCmd)
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Validate configuration and the agent registry without processing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := app.Preflight(cfg)
		if err != nil {
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &cfgErr) {
				for _, p := range cfgErr.Problems {
					fmt.Fprintln(cmd.ErrOrStderr(), "  -", p)
				}
			}
			return &exitError{code: service.ExitFailure, err: err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d agents, %d backends, store %s\n",
			len(agents), len(cfg.Backends.Ordered()), cfg.Store.Driver)
		return nil
	},
}
