package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odookb/odookb/internal/app"
	"github.com/odookb/odookb/internal/config"
	"github.com/odookb/odookb/internal/ingest"
	"github.com/odookb/odookb/internal/source"
)

var (
	ingestAll    bool
	ingestSource string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [version]",
	Short: "Ingest a documentation version into the knowledge base",
	Long: `Scan the configured source tree for the given documentation version
(e.g. "18.0"), detect added, modified and deleted pages against the local
manifest, and re-chunk and re-embed only what changed.

Pages are replaced atomically in the vector store; a run that fails part
way leaves unaffected pages searchable and retries the failed ones on the
next invocation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestAll, "all", false, "ingest every version found in the source tree")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source tree to scan (overrides the configured directory)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestAll == (len(args) == 1) {
		return fmt.Errorf("specify exactly one of a version argument or --all")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ingestSource != "" {
		cfg.Ingest.SourceDir = ingestSource
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

	var versions []int
	if ingestAll {
		scanner := source.NewScanner(cfg.Ingest.SourceDir, logger)
		versions, err = scanner.Versions()
		if err != nil {
			return fmt.Errorf("listing source versions: %w", err)
		}
		if len(versions) == 0 {
			return fmt.Errorf("no versions found under %s", cfg.Ingest.SourceDir)
		}
	} else {
		v, err := source.ParseVersion(args[0])
		if err != nil {
			return err
		}
		versions = []int{v}
	}

	return ingestVersions(ctx, cmd, a.Coordinator(), versions)
}

// versionIngester is the slice of ingest.Coordinator the command needs.
type versionIngester interface {
	IngestVersion(ctx context.Context, version int) (*ingest.Report, error)
}

// ingestVersions runs the versions in order, printing each report. Partial
// failures from every version are joined so one clean version late in the
// list cannot mask an earlier failure.
func ingestVersions(ctx context.Context, cmd *cobra.Command, coord versionIngester, versions []int) error {
	var runErr error
	for _, v := range versions {
		report, err := coord.IngestVersion(ctx, v)
		if err != nil {
			if errors.Is(err, ingest.ErrRunInProgress) {
				return fmt.Errorf("version %s: %w", source.VersionString(v), err)
			}
			if report != nil {
				printReport(cmd, report)
			}
			return fmt.Errorf("ingesting version %s: %w", source.VersionString(v), err)
		}

		printReport(cmd, report)
		runErr = errors.Join(runErr, report.Err())
	}

	return runErr
}

func printReport(cmd *cobra.Command, r *ingest.Report) {
	cmd.Printf("Version %s (run %s, %s)\n",
		source.VersionString(r.Version), r.RunID, r.Duration().Round(time.Millisecond))
	cmd.Printf("  ingested:  %d documents (%d chunks)\n", r.Succeeded, r.ChunksWritten)
	cmd.Printf("  unchanged: %d\n", r.Skipped)
	cmd.Printf("  deleted:   %d\n", r.Deleted)
	cmd.Printf("  failed:    %d\n", r.Failed)
	for _, f := range r.Failures {
		cmd.Printf("    %s (%s): %v\n", f.Path, f.Stage, f.Err)
	}
}
