package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odookb/odookb/internal/app"
	"github.com/odookb/odookb/internal/config"
	"github.com/odookb/odookb/internal/source"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List documentation versions present in the knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	versions, err := a.Chunks.Versions(ctx)
	if err != nil {
		return fmt.Errorf("listing versions: %w", err)
	}

	if len(versions) == 0 {
		cmd.Println("The knowledge base is empty. Run `odookb ingest` first.")
		return nil
	}

	for _, v := range versions {
		cmd.Printf("%-8s %d chunks\n", source.VersionString(v.Version), v.Chunks)
	}
	return nil
}
