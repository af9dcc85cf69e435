package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/output"
)

var fileDefFormat string

var fileDefCmd = &cobra.Command{
	Use:     "file-definition",
	Aliases: []string{"fd"},
	Short:   "Create and upload identifier sources",
	Long: `Create and upload identifier sources for 'export' by file definition.

Creating a file definition also creates the NEW job that will export it.
After uploading, submit the job through the HTTP API or
'mod-data-export export file'.`,
}

var fileDefCreateCmd = &cobra.Command{
	Use:   "create <file_name>",
	Short: "Register a file definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileDefCreate,
}

var fileDefUploadCmd = &cobra.Command{
	Use:   "upload <file_definition_id> <path>",
	Short: "Upload the content of a file definition",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileDefUpload,
}

func init() {
	rootCmd.AddCommand(fileDefCmd)
	fileDefCmd.AddCommand(fileDefCreateCmd, fileDefUploadCmd)
	fileDefCreateCmd.Flags().StringVar(&fileDefFormat, "format", "csv", "Upload format: csv or cql")
}

func runFileDefCreate(cmd *cobra.Command, args []string) error {
	format := job.FileFormat(strings.ToUpper(strings.TrimSpace(fileDefFormat)))
	if format != job.FormatCSV && format != job.FormatCQL {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format must be csv or cql"))
	}
	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		fd, err := a.runner.CreateFileDefinition(ctx, args[0], format)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to create file definition", err)
		}
		if err := w.WriteFileDefinition(ctx, fd); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	})
}

func runFileDefUpload(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[1])
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to open input", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to stat input", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app, w output.Writer) error {
		fd, err := a.runner.Upload(ctx, strings.TrimSpace(args[0]), f, info.Size())
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to upload", err)
		}
		if err := w.WriteFileDefinition(ctx, fd); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	})
}
