// Package exporter runs the slice export engine: each file unit is resolved
// to records, converted to MARC, staged on local disk and uploaded to
// object storage.
//
// A unit's failure marks that unit FAILED and never stops its siblings.
package exporter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstats"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/fetch"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/mappingprofile"
	"github.com/folio-org/mod-data-export/pkg/marc"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
	"github.com/folio-org/mod-data-export/pkg/retry"
)

// DefaultWorkers is the default number of units exported concurrently.
const DefaultWorkers = 4

// Store is the persistence the engine needs.
type Store interface {
	UpdateFileUnit(ctx context.Context, u *job.FileUnit) error
	ListIdentifiersInRange(ctx context.Context, jobID, from, to string) ([]string, error)
	ListCatalogRecordsInRange(ctx context.Context, filter exportstore.CatalogFilter, from, to string) ([]job.Record, error)
	SaveErrorLog(ctx context.Context, entry *job.ErrorLog) error
}

// Fetcher resolves ids through the bulk fetch client.
type Fetcher interface {
	FetchByIDs(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Config configures an Engine.
type Config struct {
	// Workers bounds concurrently exported units.
	// Default: 4
	Workers int

	// SliceTimeout bounds one unit's export. Zero means no bound.
	SliceTimeout time.Duration

	// StagingDir holds files before upload.
	// Default: <os temp>/mod-data-export
	StagingDir string

	// Retry controls upload retries.
	Retry retry.Config

	MeterProvider metric.MeterProvider
	Logger        *zap.Logger
}

// Task is one unit to export with everything resolved once per run.
type Task struct {
	Unit         job.FileUnit
	Request      job.ExportRequest
	JobProfileID string
	Profile      *mappingprofile.MappingProfile
	Reference    marc.ReferenceData

	// Stats receives not-found ids. May be nil.
	Stats *exportstats.Accumulator
}

// Engine exports units. It is safe for concurrent use.
type Engine struct {
	store     Store
	fetcher   Fetcher
	converter marc.Converter
	objects   objectstore.Storage
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics
}

// New creates an Engine. fetcher may be nil when only export-all units are
// run.
func New(store Store, fetcher Fetcher, converter marc.Converter, objects objectstore.Storage, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("exporter: store is required")
	}
	if objects == nil {
		return nil, errors.New("exporter: object storage is required")
	}
	if converter == nil {
		converter = marc.NewConverter()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SliceTimeout < 0 {
		cfg.SliceTimeout = 0
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "mod-data-export")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("exporter: metrics: %w", err)
	}
	return &Engine{
		store:     store,
		fetcher:   fetcher,
		converter: converter,
		objects:   objects,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Workers returns the pool size.
func (e *Engine) Workers() int { return e.cfg.Workers }

// Run exports every task on the worker pool and returns the final units in
// task order. Units never started because ctx ended are marked FAILED.
func (e *Engine) Run(ctx context.Context, tasks []Task) []job.FileUnit {
	out := make([]job.FileUnit, len(tasks))
	work := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers && i < len(tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				out[idx] = e.ExportSlice(ctx, tasks[idx])
			}
		}()
	}

	next := 0
feed:
	for ; next < len(tasks); next++ {
		select {
		case work <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	for ; next < len(tasks); next++ {
		out[next] = e.fail(context.WithoutCancel(ctx), tasks[next], tasks[next].Unit, ctx.Err())
	}
	return out
}

// ExportSlice exports one unit and returns it in its terminal state. All
// failures are recorded on the unit and in the job's error log.
func (e *Engine) ExportSlice(ctx context.Context, task Task) (unit job.FileUnit) {
	start := time.Now()
	unit = task.Unit
	logger := e.logger.With(
		zap.String("job_id", unit.JobExecutionID),
		zap.String("tenant", task.Request.Tenant),
		zap.String("file", unit.FileName),
	)
	defer func() {
		e.metrics.observeSlice(context.WithoutCancel(ctx), task.Request.IDType.Kind(), string(unit.Status), unit.Exported, time.Since(start))
	}()

	// Bookkeeping writes survive the slice deadline.
	persistCtx := context.WithoutCancel(ctx)

	unit.Status = job.UnitActive
	if err := e.store.UpdateFileUnit(persistCtx, &unit); err != nil {
		logger.Error("mark unit active", zap.Error(err))
		if errors.Is(err, exportstore.ErrUnitTerminal) {
			return task.Unit
		}
		return e.fail(persistCtx, task, unit, err)
	}

	sliceCtx := ctx
	if e.cfg.SliceTimeout > 0 {
		var cancel context.CancelFunc
		sliceCtx, cancel = context.WithTimeout(ctx, e.cfg.SliceTimeout)
		defer cancel()
	}

	exported, failed, err := e.run(sliceCtx, task, &unit, logger)
	if err != nil {
		logger.Error("slice export failed", zap.Error(err))
		return e.fail(persistCtx, task, unit, err)
	}

	unit.Status = job.UnitCompleted
	unit.Exported = exported
	unit.Failed = failed
	if err := e.store.UpdateFileUnit(persistCtx, &unit); err != nil {
		logger.Error("mark unit completed", zap.Error(err))
		return e.fail(persistCtx, task, unit, err)
	}
	logger.Info("slice exported", zap.Int64("exported", exported), zap.Int64("failed", failed))
	return unit
}

// run performs resolve, convert, stage and upload. Panics become errors.
func (e *Engine) run(ctx context.Context, task Task, unit *job.FileUnit, logger *zap.Logger) (exported, failed int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slice export panicked: %v", r)
		}
	}()

	if task.Profile == nil {
		return 0, 0, errors.New("no mapping profile")
	}
	if !task.Request.All && e.fetcher == nil {
		return 0, 0, errors.New("no fetch client configured")
	}

	res, err := resolverFor(task.Request)(ctx, e, task)
	if err != nil {
		return 0, 0, err
	}
	sort.Slice(res.records, func(i, j int) bool { return res.records[i].ID < res.records[j].ID })

	failed = int64(len(res.unavailable))
	for _, id := range res.missing {
		e.recordError(ctx, task, job.ErrorRecordNotFound, &job.AffectedRecord{ID: id, Type: string(task.Request.IDType)}, id)
		if task.Stats != nil {
			task.Stats.AddNotFound(id)
		}
	}
	failed += int64(len(res.missing))

	staging := filepath.Join(e.cfg.StagingDir, unit.JobExecutionID, unit.FileName)
	written, convFailed, size, err := e.stage(ctx, task, res.records, staging)
	if err != nil {
		return 0, 0, err
	}
	failed += convFailed

	if written == 0 {
		_ = os.Remove(staging)
		logger.Debug("slice produced no records")
		return 0, failed, nil
	}

	if err := e.upload(ctx, task, unit.FileLocation, staging, size, logger); err != nil {
		return 0, 0, err
	}
	_ = os.Remove(staging)
	return written, failed, nil
}

// stage converts records into the staging file. Conversion failures are
// per record and do not fail the slice.
func (e *Engine) stage(ctx context.Context, task Task, records []job.Record, staging string) (written, failed, size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return 0, 0, 0, fmt.Errorf("create staging dir: %w", err)
	}
	f, err := os.Create(staging)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close staging file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		data, convErr := e.converter.Convert(ctx, rec, task.Request.IDType, task.Profile, task.Reference)
		if convErr != nil {
			if ctx.Err() != nil {
				return 0, 0, 0, ctx.Err()
			}
			failed++
			e.recordError(ctx, task, job.ErrorMarcConversion, &job.AffectedRecord{ID: rec.ID, Type: string(task.Request.IDType)}, convErr.Error())
			continue
		}
		if _, err := w.Write(data); err != nil {
			return 0, 0, 0, fmt.Errorf("write staging file: %w", err)
		}
		written++
		size += int64(len(data))
	}
	if err := w.Flush(); err != nil {
		return 0, 0, 0, fmt.Errorf("flush staging file: %w", err)
	}
	return written, failed, size, nil
}

func (e *Engine) upload(ctx context.Context, task Task, location, staging string, size int64, logger *zap.Logger) error {
	notify := func(err error, attempt int, wait time.Duration) {
		e.metrics.uploadRetries.Add(ctx, 1)
		logger.Warn("retrying slice upload",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := retry.Do(ctx, e.cfg.Retry, objectstore.IsRetryable, notify, func(ctx context.Context) error {
		f, err := os.Open(staging)
		if err != nil {
			return fmt.Errorf("open staging file: %w", err)
		}
		defer func() { _ = f.Close() }()
		return e.objects.Write(ctx, location, f, size)
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", location, err)
	}
	return nil
}

// fail marks unit FAILED with every record counted as failed.
func (e *Engine) fail(ctx context.Context, task Task, unit job.FileUnit, cause error) job.FileUnit {
	if cause == nil {
		cause = errors.New("slice not exported")
	}
	unit.Status = job.UnitFailed
	unit.Exported = 0
	unit.Failed = unit.Count
	unit.ErrorMessage = cause.Error()
	if err := e.store.UpdateFileUnit(ctx, &unit); err != nil && !errors.Is(err, exportstore.ErrUnitTerminal) {
		e.logger.Error("mark unit failed",
			zap.String("job_id", unit.JobExecutionID),
			zap.String("file", unit.FileName),
			zap.Error(err),
		)
	}
	e.recordError(ctx, task, job.ErrorSliceExport, nil, unit.FileName, cause.Error())
	return unit
}

func (e *Engine) recordError(ctx context.Context, task Task, code job.ErrorCode, affected *job.AffectedRecord, values ...string) {
	entry := &job.ErrorLog{
		JobExecutionID: task.Unit.JobExecutionID,
		JobProfileID:   task.JobProfileID,
		ErrorCode:      code,
		ErrorValues:    values,
		Message:        code.Format(values...),
		AffectedRecord: affected,
	}
	err := e.store.SaveErrorLog(context.WithoutCancel(ctx), entry)
	if errors.Is(err, exportstore.ErrJobTerminal) {
		// The job was failed elsewhere and its log is closed.
		return
	}
	if err != nil {
		e.logger.Error("save error log",
			zap.String("job_id", task.Unit.JobExecutionID),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
}
