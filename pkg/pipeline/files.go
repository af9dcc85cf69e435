package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

// CreateFileDefinition registers an identifier source together with the
// NEW job that will export it.
func (r *Runner) CreateFileDefinition(ctx context.Context, fileName string, format job.FileFormat) (*job.FileDefinition, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrValidation)
	}
	switch format {
	case "":
		format = job.FormatCSV
	case job.FormatCSV, job.FormatCQL:
	default:
		return nil, fmt.Errorf("%w: unsupported upload format %q", ErrValidation, format)
	}

	exec := &job.Execution{}
	if err := r.deps.Store.CreateJobExecution(ctx, exec); err != nil {
		return nil, err
	}
	fd := &job.FileDefinition{JobExecutionID: exec.ID, FileName: fileName, Format: format}
	if err := r.deps.Store.CreateFileDefinition(ctx, fd); err != nil {
		return nil, err
	}
	return fd, nil
}

// Upload stores the content of a file definition and marks it COMPLETED.
func (r *Runner) Upload(ctx context.Context, fileDefinitionID string, body io.Reader, size int64) (*job.FileDefinition, error) {
	fd, err := r.deps.Store.GetFileDefinition(ctx, fileDefinitionID)
	if err != nil {
		return nil, err
	}
	if fd.Status != job.FileDefinitionNew {
		return nil, fmt.Errorf("%w: file definition %s is %s", ErrValidation, fd.ID, fd.Status)
	}

	p := objectstore.UploadPath(fd.ID, fd.FileName)
	if err := r.deps.Objects.Write(ctx, p, body, size); err != nil {
		fd.Status = job.FileDefinitionError
		_ = r.deps.Store.UpdateFileDefinition(ctx, fd)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if size < 0 {
		if infos, err := r.deps.Objects.List(ctx, objectstore.UploadFolder(fd.ID)); err == nil && len(infos) == 1 {
			size = infos[0].Size
		}
	}

	fd.SourcePath = p
	fd.Size = size
	fd.Status = job.FileDefinitionCompleted
	if err := r.deps.Store.UpdateFileDefinition(ctx, fd); err != nil {
		return nil, err
	}
	return fd, nil
}

// QuickExport exports an ad-hoc identifier list by writing it as a
// delimited upload and submitting it by file definition.
func (r *Runner) QuickExport(ctx context.Context, ids []string, req job.ExportRequest) (*job.Execution, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no identifiers given", ErrValidation)
	}
	name := fmt.Sprintf("quick-export-%s.csv", r.now().Format("20060102150405"))
	fd, err := r.CreateFileDefinition(ctx, name, job.FormatCSV)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	if _, err := r.Upload(ctx, fd.ID, &buf, int64(buf.Len())); err != nil {
		return nil, err
	}

	req.FileDefinitionID = fd.ID
	req.All = false
	return r.PostDataExport(ctx, req)
}

// ExportDeleted exports catalog records of req.IDType marked deleted with
// an update time in [from, to].
func (r *Runner) ExportDeleted(ctx context.Context, from, to time.Time, req job.ExportRequest) (*job.Execution, error) {
	kind, err := job.ParseIDType(string(req.IDType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if to.IsZero() {
		to = r.now()
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", ErrValidation)
	}
	ids, err := r.deps.Store.ListDeletedCatalogIDs(ctx, kind.Kind(), from, to)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no deleted %s records between %s and %s",
			ErrValidation, kind.Kind(), from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	req.IDType = kind
	req.IncludeDeleted = true
	return r.QuickExport(ctx, ids, req)
}

// DeleteJob removes a job with its durable state and stored files.
// Running jobs cannot be deleted.
func (r *Runner) DeleteJob(ctx context.Context, id string) error {
	exec, err := r.deps.Store.GetJobExecution(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status == job.StatusInProgress {
		return fmt.Errorf("delete job %s: %w", id, ErrJobRunning)
	}
	if err := r.deps.Store.DeleteJobExecution(ctx, id); err != nil {
		return err
	}
	if err := r.deps.Objects.RemoveFolder(ctx, objectstore.JobFolder(id)); err != nil {
		r.logger.Warn("remove job files", zap.String("job_id", id), zap.Error(err))
	}
	return nil
}

// OpenExportedFile opens a produced file of job jobID. The caller must close
// the returned reader.
func (r *Runner) OpenExportedFile(ctx context.Context, jobID, fileID string) (io.ReadCloser, *job.FileUnit, error) {
	unit, err := r.deps.Store.GetFileUnit(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if unit.JobExecutionID != jobID || unit.Status != job.UnitCompleted || unit.Exported == 0 {
		return nil, nil, fmt.Errorf("file %s of job %s: %w", fileID, jobID, exportstore.ErrNotFound)
	}
	rc, err := r.deps.Objects.Read(ctx, unit.FileLocation)
	if err != nil {
		return nil, nil, err
	}
	return rc, unit, nil
}
