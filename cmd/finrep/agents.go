package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"finrep/internal/agent"
	"finrep/internal/app"
	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/repository/sqlstore"
)

func init() {
	agentsCmd.AddCommand(agentsSeedCmd, agentsListCmd)
	rootCmd.AddCommand(agentsCmd)
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the agent registry in the store",
}

var agentsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the agent registry file into the store, replacing stored prompts",
	Long: `Write every agent of the registry file into the store.

Stored base prompts, including prompts evolved by coaching, are replaced by the
file's prompts. Prompt history is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := config.LoadAgents(cfg.Agents.Path)
		if err != nil {
			return err
		}
		if problems := config.ValidateAgents(agents); len(problems) > 0 {
			return &domain.ConfigurationError{Problems: problems}
		}

		db, err := app.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := agent.Seed(cmd.Context(), sqlstore.NewAgentRepo(db), agents); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d agents from %s\n", len(agents), cfg.Agents.Path)
		return nil
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored agents with their current prompt hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := app.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		agents, err := sqlstore.NewAgentRepo(db).List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSECTIONS\tFIELDS\tTHRESHOLD\tPROMPT")
		for _, a := range agents {
			hash := a.PromptHash
			if hash == "" {
				hash = agent.PromptHash(a.BasePrompt)
			}
			fmt.Fprintf(tw, "%s\t%v\t%d\t%.2f\t%s\n", a.ID, a.Sections, len(a.ExpectedFields), a.ConfidenceThreshold, hash[:12])
		}
		return tw.Flush()
	},
}
