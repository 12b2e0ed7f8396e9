package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odookb/odookb/internal/app"
	"github.com/odookb/odookb/internal/config"
	"github.com/odookb/odookb/internal/retrieve"
	"github.com/odookb/odookb/internal/source"
)

var (
	queryVersion string
	queryTopK    int
	queryFilters []string
	queryFull    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Search the knowledge base semantically",
	Long: `Embed the question and return the closest chunks from the given
documentation version, most similar first. Results cite the source page URL
and chunk number.

Metadata filters narrow the search, e.g. --filter filename=install.md.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryVersion, "version", "18.0", "documentation version to search")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", retrieve.DefaultTopK, "maximum number of results")
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "metadata filter as key=value (repeatable)")
	queryCmd.Flags().BoolVar(&queryFull, "full", false, "print full chunk content instead of summaries")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	version, err := source.ParseVersion(queryVersion)
	if err != nil {
		return err
	}

	opts := []retrieve.Option{retrieve.WithTopK(queryTopK)}
	for _, f := range queryFilters {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid filter %q, want key=value", f)
		}
		opts = append(opts, retrieve.WithFilter(key, value))
	}

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

	results, err := a.Retriever.Retrieve(ctx, strings.Join(args, " "), version, opts...)
	if err != nil {
		return fmt.Errorf("retrieving: %w", err)
	}

	if len(results) == 0 {
		cmd.Println("No matching documentation found.")
		return nil
	}

	for i, r := range results {
		cmd.Printf("%d. %s (similarity %.3f)\n", i+1, r.Title, r.Similarity)
		cmd.Printf("   %s#chunk-%d\n", r.URL, r.ChunkNumber)
		text := r.Summary
		if queryFull {
			text = r.Content
		}
		if text != "" {
			cmd.Printf("   %s\n", text)
		}
		cmd.Println()
	}
	return nil
}
