// Command finrep extracts structured data from scanned annual reports, checks the result
// against reference values and serves the run API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finrep/internal/config"
	"finrep/internal/logging"
)

var (
	agentsPath string
	logLevel   string

	version = "dev"

	cfg         *config.Config
	flushLogger func()
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func main() {
	err := rootCmd.Execute()
	if flushLogger != nil {
		flushLogger()
	}
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, "finrep:", exit.err)
		}
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "finrep:", err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   "finrep",
	Short: "Annual report extraction with coached agents and an acceptance gate",
	Long: `finrep classifies the pages of scanned financial reports, runs extraction agents
per section under a coaching loop, merges their output and checks it against
known reference values.

Configuration is read from FINREP_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if agentsPath != "" {
			loaded.Agents.Path = agentsPath
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		_, flush, err := logging.New(loaded.Log)
		if err != nil {
			return err
		}
		cfg = loaded
		flushLogger = flush
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&agentsPath, "agents", "", "agent registry YAML (overrides FINREP_AGENTS_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides FINREP_LOG_LEVEL)")
}
