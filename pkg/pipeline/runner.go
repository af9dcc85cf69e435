// Package pipeline runs export jobs: a submitted request is validated,
// the job moves to IN_PROGRESS and a background task carries it through
// ingestion, slicing and slice export before finalizing its status and
// progress from durable unit state.
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
	"github.com/folio-org/mod-data-export/pkg/gateway"
	"github.com/folio-org/mod-data-export/pkg/ingest"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/mappingprofile"
	"github.com/folio-org/mod-data-export/pkg/marc"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
	"github.com/folio-org/mod-data-export/pkg/slicer"
)

// DefaultProgressInterval is how often a running job's progress is
// refreshed from its units.
const DefaultProgressInterval = 30 * time.Second

var (
	// ErrValidation marks a rejected export request.
	ErrValidation = errors.New("invalid export request")

	// ErrShutdown is returned for submissions after Shutdown.
	ErrShutdown = errors.New("pipeline is shut down")

	// ErrJobRunning is returned when deleting an IN_PROGRESS job.
	ErrJobRunning = errors.New("job is running")
)

// Store is the persistence the pipeline needs.
type Store interface {
	CreateJobExecution(ctx context.Context, e *job.Execution) error
	GetJobExecution(ctx context.Context, id string) (*job.Execution, error)
	UpdateJobExecution(ctx context.Context, e *job.Execution) error
	DeleteJobExecution(ctx context.Context, id string) error

	CreateFileDefinition(ctx context.Context, fd *job.FileDefinition) error
	GetFileDefinition(ctx context.Context, id string) (*job.FileDefinition, error)
	UpdateFileDefinition(ctx context.Context, fd *job.FileDefinition) error

	GetFileUnit(ctx context.Context, id string) (*job.FileUnit, error)
	ListFileUnits(ctx context.Context, jobID string) ([]job.FileUnit, error)
	SummarizeFileUnits(ctx context.Context, jobID string) (exportstore.UnitSummary, error)

	SaveErrorLog(ctx context.Context, entry *job.ErrorLog) error
	CountErrorLogs(ctx context.Context, jobID string) (int64, error)

	ListDeletedCatalogIDs(ctx context.Context, kind string, from, to time.Time) ([]string, error)
}

// Ingester fills a job's identifier set.
type Ingester interface {
	Ingest(ctx context.Context, fd *job.FileDefinition, stats *exportstats.Accumulator, kind job.IDType) ingest.Summary
}

// UserDirectory resolves requesters for run-by attribution.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*gateway.User, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Store    Store
	Objects  objectstore.Storage
	Ingester Ingester
	Slicer   *slicer.Slicer
	Engine   *exporter.Engine
	Profiles *mappingprofile.Registry

	// Users may be nil; jobs then carry only the requester id.
	Users UserDirectory

	// Reference returns the reference data source of a tenant. May be nil.
	Reference func(tenant string) marc.ReferenceSource
}

// Config configures a Runner.
type Config struct {
	// CentralTenant is the consortium central tenant whose reference data
	// takes precedence. Empty disables merging.
	CentralTenant string

	// ProgressInterval is the refresh period of running jobs.
	// Default: 30s
	ProgressInterval time.Duration

	Logger *zap.Logger
}

// Runner submits and runs export jobs. It is safe for concurrent use.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	active map[string]context.CancelFunc
}

// New creates a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Objects == nil:
		return nil, errors.New("pipeline: object storage is required")
	case deps.Ingester == nil:
		return nil, errors.New("pipeline: ingester is required")
	case deps.Slicer == nil:
		return nil, errors.New("pipeline: slicer is required")
	case deps.Engine == nil:
		return nil, errors.New("pipeline: export engine is required")
	}
	if deps.Profiles == nil {
		deps.Profiles = mappingprofile.NewRegistry()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]context.CancelFunc),
	}, nil
}

// PostDataExport validates req, moves its job to IN_PROGRESS and starts the
// run in the background. It returns once the run is scheduled. A rejected
// request fails its job (when one exists) and returns an error wrapping
// ErrValidation.
func (r *Runner) PostDataExport(ctx context.Context, req job.ExportRequest) (*job.Execution, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}

	kind, err := job.ParseIDType(string(req.IDType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	req.IDType = kind

	var fd *job.FileDefinition
	exec := &job.Execution{}
	switch {
	case req.FileDefinitionID != "":
		fd, err = r.deps.Store.GetFileDefinition(ctx, req.FileDefinitionID)
		if err != nil {
			if exportstore.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return nil, err
		}
		exec, err = r.deps.Store.GetJobExecution(ctx, fd.JobExecutionID)
		if err != nil {
			return nil, fmt.Errorf("load job of file definition %s: %w", fd.ID, err)
		}
	case req.All:
		if err := r.deps.Store.CreateJobExecution(ctx, exec); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: file definition is required unless exporting all records", ErrValidation)
	}

	if exec.Status != job.StatusNew {
		return nil, fmt.Errorf("%w: job %s is %s", ErrValidation, exec.ID, exec.Status)
	}
	if fd != nil && fd.Status != job.FileDefinitionCompleted {
		return r.reject(ctx, exec, req, fmt.Sprintf("file definition %s has no uploaded content", fd.ID))
	}

	jp, mp, err := r.deps.Profiles.Resolve(req.JobProfileID)
	if err != nil {
		return r.reject(ctx, exec, req, err.Error())
	}
	if !mp.Supports(kind) {
		return r.reject(ctx, exec, req, fmt.Sprintf("job profile %s does not export %s records", jp.ID, kind))
	}
	req.JobProfileID = jp.ID

	exec.JobProfileID = jp.ID
	exec.JobProfileName = jp.Name
	exec.RunBy = r.runBy(ctx, req.RequestedBy)
	if err := exec.Transition(job.StatusInProgress, r.now()); err != nil {
		return nil, err
	}
	if err := r.deps.Store.UpdateJobExecution(ctx, exec); err != nil {
		return nil, err
	}

	runCtx, stop := context.WithCancel(r.ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		stop()
		return nil, ErrShutdown
	}
	r.wg.Add(1)
	r.active[exec.ID] = stop
	r.mu.Unlock()

	run := &run{
		runner:  r,
		jobID:   exec.ID,
		req:     req,
		fd:      fd,
		mapping: mp,
		stats:   exportstats.New(),
		stop:    stop,
		logger:  r.logger.With(zap.String("job_id", exec.ID), zap.String("tenant", req.Tenant)),
	}
	go func() {
		defer r.wg.Done()
		defer r.release(exec.ID)
		run.execute(runCtx)
	}()

	r.logger.Info("export submitted",
		zap.String("job_id", exec.ID),
		zap.Int64("hrid", exec.HRID),
		zap.String("tenant", req.Tenant),
		zap.String("id_type", string(kind)),
		zap.Bool("all", req.All),
	)
	return exec, nil
}

// reject fails exec for an invalid request.
func (r *Runner) reject(ctx context.Context, exec *job.Execution, req job.ExportRequest, reason string) (*job.Execution, error) {
	r.logger.Warn("export request rejected", zap.String("job_id", exec.ID), zap.String("reason", reason))
	_ = r.deps.Store.SaveErrorLog(ctx, &job.ErrorLog{
		JobExecutionID: exec.ID,
		JobProfileID:   req.JobProfileID,
		ErrorCode:      job.ErrorFileDefinition,
		ErrorValues:    []string{reason},
	})
	if err := exec.Transition(job.StatusFail, r.now()); err == nil {
		if err := r.deps.Store.UpdateJobExecution(ctx, exec); err != nil {
			r.logger.Error("persist rejected job", zap.String("job_id", exec.ID), zap.Error(err))
		}
	}
	return exec, fmt.Errorf("%w: %s", ErrValidation, reason)
}

func (r *Runner) runBy(ctx context.Context, userID string) job.RunBy {
	rb := job.RunBy{UserID: userID}
	if userID == "" || r.deps.Users == nil {
		return rb
	}
	u, err := r.deps.Users.GetUser(ctx, userID)
	if err != nil {
		r.logger.Warn("resolve requesting user", zap.String("user_id", userID), zap.Error(err))
		return rb
	}
	rb.FirstName = u.Personal.FirstName
	rb.LastName = u.Personal.LastName
	return rb
}

// Cancel stops the run of jobID, if one is active in this process. The
// run persists nothing further once its job is terminal.
func (r *Runner) Cancel(jobID string) {
	r.mu.Lock()
	stop, ok := r.active[jobID]
	r.mu.Unlock()
	if ok {
		r.logger.Info("cancelling export run", zap.String("job_id", jobID))
		stop()
	}
}

func (r *Runner) release(jobID string) {
	r.mu.Lock()
	stop := r.active[jobID]
	delete(r.active, jobID)
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Wait blocks until every running job finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Shutdown stops accepting jobs, cancels running ones and waits for them
// or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
