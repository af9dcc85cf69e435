package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/folio-org/mod-data-export/pkg/output"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run maintenance sweeps once",
	Long: `Run maintenance sweeps once. 'serve' runs both periodically.

  expire   fail jobs without progress for longer than sweeper.stale_after
           and fill in missing completion dates of failed jobs
  cleanup  remove expired file definitions, their uploads and leftover
           staging files`,
}

var sweepExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire stale running jobs",
	Args:  cobra.NoArgs,
	RunE:  runSweepExpire,
}

var sweepCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired uploads and staging files",
	Args:  cobra.NoArgs,
	RunE:  runSweepCleanup,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.AddCommand(sweepExpireCmd, sweepCleanupCmd)
}

func runSweepExpire(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		start := time.Now()
		res, err := a.sweeper.ExpireJobs(ctx)
		rec := &output.SweepRecord{
			Sweep:    "expire",
			Expired:  res.Expired,
			Repaired: res.Repaired,
			Duration: time.Since(start),
		}
		if werr := w.WriteSweep(ctx, rec); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
		}
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Expiration sweep incomplete", err)
		}
		return nil
	})
}

func runSweepCleanup(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		start := time.Now()
		res, err := a.sweeper.Cleanup(ctx)
		rec := &output.SweepRecord{
			Sweep:           "cleanup",
			FileDefinitions: res.FileDefinitions,
			StagingFiles:    res.StagingFiles,
			Duration:        time.Since(start),
		}
		if werr := w.WriteSweep(ctx, rec); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
		}
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cleanup sweep incomplete", err)
		}
		return nil
	})
}
