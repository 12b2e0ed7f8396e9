package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odookb/odookb/db"
	"github.com/odookb/odookb/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Bring the vector store schema up to date: the pgvector extension, the
doc_chunks table and its indexes, and the match_doc_chunks search function.
Safe to run repeatedly; applied migrations are skipped.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	cmd.Println("Database schema is up to date.")
	return nil
}
