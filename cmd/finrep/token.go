package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"finrep/internal/auth"
)

var (
	tokenSubject string
	tokenScope   string
	tokenTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject, e.g. the calling pipeline")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", "runs", "token scope")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the run API",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := auth.NewTokenManager(cfg.JWT)
		if err != nil {
			return err
		}
		signed, err := tokens.Issue(tokenSubject, tokenScope, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}
