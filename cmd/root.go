package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odookb/odookb/internal/log"
)

var (
	verbose bool
	jsonLog bool
)

var rootCmd = &cobra.Command{
	Use:   "odookb",
	Short: "Versioned, searchable knowledge base for Odoo documentation",
	Long: `odookb ingests exported Odoo documentation trees into a pgvector-backed
knowledge base and answers semantic queries against a chosen documentation
version.

Ingestion is incremental: only pages whose content changed since the last
run are re-chunked and re-embedded.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "emit logs as JSON")
}

// newLogger builds the process logger from the global flags.
// Logs go to stderr so command output on stdout stays scriptable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: jsonLog})
}
