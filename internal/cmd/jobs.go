package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/output"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsOffset int
	jobsUnits  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job executions",
	Long: `Inspect and manage job executions.

Output is JSONL: one dataexport.job.v1 record per job, followed by unit or
error log records where requested.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job executions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job_id>",
	Short: "Show one job execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a finished job with its files and error logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsErrorsCmd = &cobra.Command{
	Use:   "errors <job_id>",
	Short: "Show the error log of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsErrors,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsDeleteCmd, jobsErrorsCmd)

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Comma separated statuses to include (e.g. FAIL,COMPLETED)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 100, "Maximum jobs to list")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "Jobs to skip")
	jobsGetCmd.Flags().BoolVar(&jobsUnits, "units", false, "Also print the job's file units")
}

func parseStatuses(v string) ([]job.Status, error) {
	var out []job.Status
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := job.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	statuses, err := parseStatuses(jobsStatus)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --status value", err)
	}
	if jobsLimit < 1 || jobsOffset < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid paging", fmt.Errorf("limit must be >= 1 and offset >= 0"))
	}

	return withStore(cmd, func(ctx context.Context, store *exportstore.Store, w output.Writer) error {
		jobs, _, err := store.ListJobExecutions(ctx, exportstore.JobQuery{Statuses: statuses, Limit: jobsLimit, Offset: jobsOffset})
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list jobs", err)
		}
		for i := range jobs {
			if err := w.WriteJob(ctx, &jobs[i]); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	})
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	return withStore(cmd, func(ctx context.Context, store *exportstore.Store, w output.Writer) error {
		e, err := store.GetJobExecution(ctx, id)
		if err != nil {
			return jobLookupError(err)
		}
		if err := w.WriteJob(ctx, e); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		if !jobsUnits {
			return nil
		}
		units, err := store.ListFileUnits(ctx, id)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list units", err)
		}
		for i := range units {
			if err := w.WriteUnit(ctx, &units[i]); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	})
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		e, err := a.store.GetJobExecution(ctx, id)
		if err != nil {
			return jobLookupError(err)
		}
		if err := a.runner.DeleteJob(ctx, id); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to delete job", err)
		}
		if err := w.WriteJob(ctx, e); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	})
}

func runJobsErrors(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	return withStore(cmd, func(ctx context.Context, store *exportstore.Store, w output.Writer) error {
		if _, err := store.GetJobExecution(ctx, id); err != nil {
			return jobLookupError(err)
		}
		logs, err := store.ListErrorLogs(ctx, id)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list error logs", err)
		}
		for i := range logs {
			if err := w.WriteErrorLog(ctx, &logs[i]); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	})
}

func jobLookupError(err error) error {
	if exportstore.IsNotFound(err) {
		return exitError(foundry.ExitInvalidArgument, "Job not found", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read job", err)
}
