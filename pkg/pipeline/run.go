package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exporter"
	"github.com/folio-org/mod-data-export/pkg/exportstats"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/mappingprofile"
	"github.com/folio-org/mod-data-export/pkg/marc"
	"github.com/folio-org/mod-data-export/pkg/slicer"
)

// run is the background execution of one job.
type run struct {
	runner  *Runner
	jobID   string
	req     job.ExportRequest
	fd      *job.FileDefinition
	mapping mappingprofile.MappingProfile
	stats   *exportstats.Accumulator
	logger  *zap.Logger

	// stop cancels the run's context.
	stop context.CancelFunc

	// mu serialises job row updates of this run.
	mu sync.Mutex
}

func (r *run) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("export run panicked", zap.Any("panic", p))
			r.failJob(context.WithoutCancel(ctx), fmt.Errorf("export run panicked: %v", p))
		}
	}()

	if r.fd != nil {
		r.setFileDefinitionStatus(ctx, job.FileDefinitionInProgress)
		sum := r.runner.deps.Ingester.Ingest(ctx, r.fd, r.stats, r.req.IDType)
		if r.stats.FailedToReadInput() {
			r.setFileDefinitionStatus(ctx, job.FileDefinitionError)
		} else {
			r.setFileDefinitionStatus(ctx, job.FileDefinitionCompleted)
		}
		r.logger.Info("identifiers ingested",
			zap.Int64("lines", sum.LinesRead),
			zap.Int64("persisted", sum.Persisted),
			zap.Int64("invalid", sum.Invalid),
			zap.Int64("duplicates", sum.Duplicates()),
		)
	}
	if err := ctx.Err(); err != nil {
		r.failJob(context.WithoutCancel(ctx), err)
		return
	}

	units, err := r.slice(ctx)
	if err != nil {
		r.logger.Error("slicing failed", zap.Error(err))
		r.saveError(ctx, job.ErrorPartitioning, err.Error())
		r.failJob(context.WithoutCancel(ctx), err)
		return
	}

	stats := r.stats.Snapshot()
	var planned int64
	for _, u := range units {
		planned += u.Count
	}
	if err := r.update(ctx, func(e *job.Execution) error {
		e.Progress.Total = planned + stats.Rejected()
		return e.Transition(job.StatusInProgress, r.runner.now())
	}); err != nil {
		if !errors.Is(err, exportstore.ErrJobTerminal) {
			r.logger.Error("record planned progress", zap.Error(err))
		}
		return
	}

	if len(units) > 0 {
		tasks := r.tasks(ctx, units)
		stop := r.refreshProgress(ctx)
		r.runner.deps.Engine.Run(ctx, tasks)
		stop()
	}

	if err := r.finalize(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("finalize job", zap.Error(err))
	}
}

// slice skips partitioning when ingestion produced nothing to read.
func (r *run) slice(ctx context.Context) ([]job.FileUnit, error) {
	if r.stats.FailedToReadInput() {
		return nil, nil
	}
	exec, err := r.runner.deps.Store.GetJobExecution(ctx, r.jobID)
	if err != nil {
		return nil, err
	}
	return r.runner.deps.Slicer.Slice(ctx, slicer.Input{Execution: exec, FileDefinition: r.fd, Request: r.req})
}

func (r *run) tasks(ctx context.Context, units []job.FileUnit) []exporter.Task {
	ref := r.referenceData(ctx)
	out := make([]exporter.Task, 0, len(units))
	for _, u := range units {
		out = append(out, exporter.Task{
			Unit:         u,
			Request:      r.req,
			JobProfileID: r.req.JobProfileID,
			Profile:      &r.mapping,
			Reference:    ref,
			Stats:        r.stats,
		})
	}
	return out
}

// referenceData loads the tables the mapping profile uses. Failures leave
// values untranslated.
func (r *run) referenceData(ctx context.Context) marc.ReferenceData {
	tables := r.mapping.ReferenceTables()
	source := r.runner.deps.Reference
	if len(tables) == 0 || source == nil {
		return nil
	}
	var central marc.ReferenceSource
	if c := r.runner.cfg.CentralTenant; c != "" && c != r.req.Tenant {
		central = source(c)
	}
	ref, err := marc.LoadReferenceData(ctx, source(r.req.Tenant), central, tables)
	if err != nil {
		r.logger.Warn("load reference data", zap.Strings("tables", tables), zap.Error(err))
		return nil
	}
	return ref
}

// refreshProgress periodically folds unit state into the job until the
// returned stop function is called.
func (r *run) refreshProgress(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.runner.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				sum, err := r.runner.deps.Store.SummarizeFileUnits(ctx, r.jobID)
				if err != nil {
					r.logger.Warn("summarize units", zap.Error(err))
					continue
				}
				err = r.update(ctx, func(e *job.Execution) error {
					e.Progress.Exported = sum.Exported
					e.Progress.Failed = sum.FailedRecords
					return e.Transition(job.StatusInProgress, r.runner.now())
				})
				if errors.Is(err, exportstore.ErrJobTerminal) {
					return
				}
				if err != nil {
					r.logger.Warn("refresh progress", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// finalize computes progress from durable unit rows and the run's
// statistics and moves the job to its terminal status.
func (r *run) finalize(ctx context.Context) error {
	store := r.runner.deps.Store
	sum, err := store.SummarizeFileUnits(ctx, r.jobID)
	if err != nil {
		r.failJob(ctx, err)
		return err
	}
	stats := r.stats.Snapshot()

	exported := sum.Exported
	failed := sum.FailedRecords + stats.Rejected()

	errorCount, err := store.CountErrorLogs(ctx, r.jobID)
	if err != nil {
		return err
	}

	status := job.StatusCompleted
	switch {
	case stats.FailedToReadInput, exported == 0 && failed > 0:
		status = job.StatusFail
	case sum.Failed > 0, errorCount > 0, failed > 0:
		status = job.StatusCompletedWithErrors
	}
	// An empty input is noted in the log without demoting the job.
	if exported == 0 && failed == 0 && !stats.FailedToReadInput {
		r.saveError(ctx, job.ErrorNoRecordsForExport)
	}

	units, err := store.ListFileUnits(ctx, r.jobID)
	if err != nil {
		return err
	}
	var files []job.ExportedFile
	for _, u := range units {
		if u.Status == job.UnitCompleted && u.Exported > 0 {
			files = append(files, job.ExportedFile{FileID: u.ID, FileName: u.FileName})
		}
	}

	err = r.update(ctx, func(e *job.Execution) error {
		e.Progress.Exported = exported
		e.Progress.Failed = failed
		e.Progress.Total = exported + failed
		e.ExportedFiles = files
		return e.Transition(status, r.runner.now())
	})
	if errors.Is(err, exportstore.ErrJobTerminal) {
		r.logger.Info("job finished elsewhere, final status kept")
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("export finished",
		zap.String("status", string(status)),
		zap.Int64("exported", exported),
		zap.Int64("failed", failed),
		zap.Int("files", len(files)),
	)
	return nil
}

// failJob moves the job to FAIL, pinning exported and failed at their
// last values.
func (r *run) failJob(ctx context.Context, cause error) {
	err := r.update(ctx, func(e *job.Execution) error {
		e.Progress.Total = e.Progress.Exported + e.Progress.Failed
		return e.Transition(job.StatusFail, r.runner.now())
	})
	if err != nil && !errors.Is(err, exportstore.ErrJobTerminal) {
		r.logger.Error("fail job", zap.NamedError("cause", cause), zap.Error(err))
	}
}

// update reloads the job, applies fn and persists it. Jobs that already
// reached a terminal status, for instance through the expiration sweep,
// are left unchanged: update then stops the run and returns an error
// wrapping exportstore.ErrJobTerminal.
func (r *run) update(ctx context.Context, fn func(e *job.Execution) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store := r.runner.deps.Store
	e, err := store.GetJobExecution(ctx, r.jobID)
	if err != nil {
		return err
	}
	if e.Status.IsTerminal() {
		err = fmt.Errorf("job %s is already %s: %w", r.jobID, e.Status, exportstore.ErrJobTerminal)
	} else if err = fn(e); err == nil {
		err = store.UpdateJobExecution(ctx, e)
	}
	if errors.Is(err, exportstore.ErrJobTerminal) {
		r.stop()
	}
	return err
}

func (r *run) setFileDefinitionStatus(ctx context.Context, status job.FileDefinitionStatus) {
	r.fd.Status = status
	if err := r.runner.deps.Store.UpdateFileDefinition(context.WithoutCancel(ctx), r.fd); err != nil && !errors.Is(err, exportstore.ErrNotFound) {
		r.logger.Warn("update file definition status", zap.Error(err))
	}
}

func (r *run) saveError(ctx context.Context, code job.ErrorCode, values ...string) {
	entry := &job.ErrorLog{
		JobExecutionID: r.jobID,
		JobProfileID:   r.req.JobProfileID,
		ErrorCode:      code,
		ErrorValues:    values,
	}
	err := r.runner.deps.Store.SaveErrorLog(context.WithoutCancel(ctx), entry)
	switch {
	case errors.Is(err, exportstore.ErrJobTerminal):
		r.stop()
	case err != nil:
		r.logger.Error("save error log", zap.String("code", string(code)), zap.Error(err))
	}
}
