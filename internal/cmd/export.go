package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/output"
)

var (
	exportIDType       string
	exportJobProfile   string
	exportFormat       string
	exportNoWait       bool
	exportUser         string
	exportDeletedFlag  bool
	exportSuppressed   bool
	exportDeletedFrom  string
	exportDeletedTo    string
	exportUUIDsFromStd bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Submit export jobs",
	Long: `Submit export jobs against the configured database and storage.

By default each command waits for the job to finish and prints the final
job record as JSONL. Use --no-wait to print the submitted job and exit
(the run is then cancelled when the process exits).

Examples:
  mod-data-export export file ids.csv --id-type instance
  mod-data-export export file query.cql --format cql
  mod-data-export export all --id-type holding --include-deleted
  printf 'uuid\n' | mod-data-export export uuids --stdin
  mod-data-export export deleted --from 2024-01-01T00:00:00Z`,
}

var exportFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Export the identifiers or query in a local file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportFile,
}

var exportAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Export every catalog record of a kind",
	Args:  cobra.NoArgs,
	RunE:  runExportAll,
}

var exportUUIDsCmd = &cobra.Command{
	Use:   "uuids [id ...]",
	Short: "Export an ad-hoc list of identifiers",
	RunE:  runExportUUIDs,
}

var exportDeletedCmd = &cobra.Command{
	Use:   "deleted",
	Short: "Export records marked deleted in a time window",
	Args:  cobra.NoArgs,
	RunE:  runExportDeleted,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportFileCmd, exportAllCmd, exportUUIDsCmd, exportDeletedCmd)

	exportCmd.PersistentFlags().StringVar(&exportIDType, "id-type", "instance", "Record kind: instance, holding or authority")
	exportCmd.PersistentFlags().StringVar(&exportJobProfile, "job-profile", "", "Job profile id (default profile when empty)")
	exportCmd.PersistentFlags().BoolVar(&exportNoWait, "no-wait", false, "Print the submitted job without waiting for completion")
	exportCmd.PersistentFlags().StringVar(&exportUser, "user", "", "Requesting user id")

	exportFileCmd.Flags().StringVar(&exportFormat, "format", "csv", "Upload format: csv or cql")

	exportAllCmd.Flags().BoolVar(&exportDeletedFlag, "include-deleted", false, "Include records marked deleted")
	exportAllCmd.Flags().BoolVar(&exportSuppressed, "suppressed", true, "Include records suppressed from discovery")

	exportUUIDsCmd.Flags().BoolVar(&exportUUIDsFromStd, "stdin", false, "Read identifiers from stdin, one per line")

	exportDeletedCmd.Flags().StringVar(&exportDeletedFrom, "from", "", "Window start (RFC 3339)")
	exportDeletedCmd.Flags().StringVar(&exportDeletedTo, "to", "", "Window end (RFC 3339, default now)")
}

func baseExportRequest(a *app) (job.ExportRequest, error) {
	kind, err := job.ParseIDType(exportIDType)
	if err != nil {
		return job.ExportRequest{}, exitError(foundry.ExitInvalidArgument, "Invalid --id-type value", err)
	}
	return job.ExportRequest{
		JobProfileID: strings.TrimSpace(exportJobProfile),
		IDType:       kind,
		Tenant:       a.tenant,
		RequestedBy:  strings.TrimSpace(exportUser),
	}, nil
}

func runExportFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := job.FileFormat(strings.ToUpper(strings.TrimSpace(exportFormat)))
	if format != job.FormatCSV && format != job.FormatCQL {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format must be csv or cql"))
	}

	f, err := os.Open(path)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to open input", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to stat input", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		req, err := baseExportRequest(a)
		if err != nil {
			return err
		}
		fd, err := a.runner.CreateFileDefinition(ctx, filepath.Base(path), format)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to create file definition", err)
		}
		if _, err := a.runner.Upload(ctx, fd.ID, f, info.Size()); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to upload input", err)
		}
		req.FileDefinitionID = fd.ID
		e, err := a.runner.PostDataExport(ctx, req)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Export rejected", err)
		}
		return finishJob(ctx, a, w, e, !exportNoWait)
	})
}

func runExportAll(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		req, err := baseExportRequest(a)
		if err != nil {
			return err
		}
		req.All = true
		req.IncludeDeleted = exportDeletedFlag
		req.SuppressedFromDiscovery = exportSuppressed
		e, err := a.runner.PostDataExport(ctx, req)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Export rejected", err)
		}
		return finishJob(ctx, a, w, e, !exportNoWait)
	})
}

func runExportUUIDs(cmd *cobra.Command, args []string) error {
	ids := append([]string(nil), args...)
	if exportUUIDsFromStd {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				ids = append(ids, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
	}
	if len(ids) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No identifiers given", fmt.Errorf("pass ids as arguments or use --stdin"))
	}

	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		req, err := baseExportRequest(a)
		if err != nil {
			return err
		}
		e, err := a.runner.QuickExport(ctx, ids, req)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Export rejected", err)
		}
		return finishJob(ctx, a, w, e, !exportNoWait)
	})
}

func runExportDeleted(cmd *cobra.Command, _ []string) error {
	from, err := parseTimeFlag(exportDeletedFrom)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --from value", err)
	}
	to, err := parseTimeFlag(exportDeletedTo)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --to value", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		req, err := baseExportRequest(a)
		if err != nil {
			return err
		}
		e, err := a.runner.ExportDeleted(ctx, from, to, req)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Export rejected", err)
		}
		return finishJob(ctx, a, w, e, !exportNoWait)
	})
}

// parseTimeFlag accepts RFC 3339 timestamps or plain dates. Empty yields
// the zero time.
func parseTimeFlag(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	return t.UTC(), nil
}
