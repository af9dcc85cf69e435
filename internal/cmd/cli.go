package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/internal/observability"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/output"
)

// cliShutdownTimeout bounds how long a command waits for background work
// when it exits.
const cliShutdownTimeout = 30 * time.Second

// withApp wires the application for one command run, hands fn a JSONL
// writer on the command's stdout and tears everything down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, w output.Writer) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	a, err := newApp(ctx, cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize", err)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.tenant)
	runErr := fn(ctx, a, w)
	_ = w.Close()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cliShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		observability.CLILogger.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}

// withStore is withApp for commands that only read or write the database.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *exportstore.Store, w output.Writer) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
	}
	defer func() { _ = store.Close() }()

	w := output.NewJSONLWriter(cmd.OutOrStdout(), cfg.Tenant.Default)
	defer func() { _ = w.Close() }()
	return fn(ctx, store, w)
}

// finishJob optionally waits for the background run of e and writes the
// job's latest state.
func finishJob(ctx context.Context, a *app, w output.Writer, e *job.Execution, wait bool) error {
	if wait {
		a.runner.Wait()
		latest, err := a.store.GetJobExecution(ctx, e.ID)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read job", err)
		}
		e = latest
	}
	if err := w.WriteJob(ctx, e); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if wait && e.Status == job.StatusFail {
		return exitError(foundry.ExitExternalServiceUnavailable, "Export failed", fmt.Errorf("job %s ended %s", e.ID, e.Status))
	}
	return nil
}
