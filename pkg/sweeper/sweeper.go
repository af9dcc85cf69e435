// Package sweeper holds the periodic maintenance of export jobs: failing
// jobs that stopped making progress, repairing FAIL jobs without a
// completion date and removing expired uploads and staging files.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

const (
	// DefaultStaleAfter is how long a running job may go without updates.
	DefaultStaleAfter = time.Hour

	// DefaultFileDefinitionTTL is the age after which uploads are removed.
	DefaultFileDefinitionTTL = 24 * time.Hour

	// DefaultStagingPattern selects staging files eligible for removal.
	DefaultStagingPattern = "**/*.mrc"
)

// Store is the persistence the sweeper needs.
type Store interface {
	GetJobExecution(ctx context.Context, id string) (*job.Execution, error)
	UpdateJobExecution(ctx context.Context, e *job.Execution) error
	ListStaleJobs(ctx context.Context, status job.Status, before time.Time) ([]job.Execution, error)
	ListFailedWithoutCompletedDate(ctx context.Context) ([]job.Execution, error)
	SetFailedCompletedDate(ctx context.Context, jobID string, completed time.Time) error
	ReplaceErrorLogs(ctx context.Context, jobID string, replacement job.ErrorLog) error
	ListFileDefinitionsCreatedBefore(ctx context.Context, before time.Time) ([]job.FileDefinition, error)
	DeleteFileDefinition(ctx context.Context, id string) error
}

// Config configures a Sweeper.
type Config struct {
	// StaleAfter is the staleness window of running jobs.
	// Default: 1h
	StaleAfter time.Duration

	// FileDefinitionTTL is the age at which uploads and staging files expire.
	// Default: 24h
	FileDefinitionTTL time.Duration

	// StagingDir is scanned for leftover staging files. Empty skips it.
	StagingDir string

	// StagingPattern is a doublestar pattern relative to StagingDir.
	// Default: **/*.mrc
	StagingPattern string

	// OnExpire is called with the id of every job the sweep failed, so a
	// worker still running it can stop. May be nil.
	OnExpire func(jobID string)

	Logger *zap.Logger
}

// ExpireResult reports one expiration sweep.
type ExpireResult struct {
	Expired  int `json:"expired"`
	Repaired int `json:"repaired"`
}

// CleanupResult reports one cleanup sweep.
type CleanupResult struct {
	FileDefinitions int `json:"fileDefinitions"`
	StagingFiles    int `json:"stagingFiles"`
}

// Sweeper runs maintenance sweeps. It is safe for concurrent use.
type Sweeper struct {
	store   Store
	objects objectstore.Storage
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Sweeper. objects may be nil when cleanup is unused.
func New(store Store, objects objectstore.Storage, cfg Config) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("sweeper: store is required")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.FileDefinitionTTL <= 0 {
		cfg.FileDefinitionTTL = DefaultFileDefinitionTTL
	}
	if cfg.StagingPattern == "" {
		cfg.StagingPattern = DefaultStagingPattern
	}
	if !doublestar.ValidatePattern(cfg.StagingPattern) {
		return nil, fmt.Errorf("sweeper: invalid staging pattern %q", cfg.StagingPattern)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:   store,
		objects: objects,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ExpireJobs fails every IN_PROGRESS job idle for longer than StaleAfter,
// zeroing its progress and collapsing its error log into one "job expired"
// entry, then repairs FAIL jobs lacking a completion date.
func (s *Sweeper) ExpireJobs(ctx context.Context) (ExpireResult, error) {
	var res ExpireResult
	now := s.now()

	stale, err := s.store.ListStaleJobs(ctx, job.StatusInProgress, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return res, err
	}
	var errs []error
	for i := range stale {
		err := s.expire(ctx, &stale[i], now)
		switch {
		case errors.Is(err, exportstore.ErrJobTerminal):
			// Finished between listing and expiring.
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		res.Expired++
		if s.cfg.OnExpire != nil {
			s.cfg.OnExpire(stale[i].ID)
		}
	}

	failed, err := s.store.ListFailedWithoutCompletedDate(ctx)
	if err != nil {
		return res, errors.Join(append(errs, err)...)
	}
	for i := range failed {
		e := &failed[i]
		completed := now
		if !e.LastUpdatedDate.IsZero() {
			completed = e.LastUpdatedDate
		}
		if err := s.store.SetFailedCompletedDate(ctx, e.ID, completed); err != nil {
			errs = append(errs, fmt.Errorf("repair job %s: %w", e.ID, err))
			continue
		}
		res.Repaired++
	}

	if res.Expired > 0 || res.Repaired > 0 {
		s.logger.Info("expiration sweep finished", zap.Int("expired", res.Expired), zap.Int("repaired", res.Repaired))
	}
	return res, errors.Join(errs...)
}

func (s *Sweeper) expire(ctx context.Context, e *job.Execution, now time.Time) error {
	if err := e.Transition(job.StatusFail, now); err != nil {
		return fmt.Errorf("expire job %s: %w", e.ID, err)
	}
	e.Progress = job.Progress{}
	if err := s.store.UpdateJobExecution(ctx, e); err != nil {
		return fmt.Errorf("expire job %s: %w", e.ID, err)
	}
	window := shortDuration(s.cfg.StaleAfter)
	err := s.store.ReplaceErrorLogs(ctx, e.ID, job.ErrorLog{
		JobExecutionID: e.ID,
		JobProfileID:   e.JobProfileID,
		ErrorCode:      job.ErrorJobExpired,
		ErrorValues:    []string{window},
	})
	if err != nil {
		return fmt.Errorf("collapse error log of job %s: %w", e.ID, err)
	}
	s.logger.Warn("job expired", zap.String("job_id", e.ID), zap.Int64("hrid", e.HRID), zap.String("window", window))
	return nil
}

// Cleanup removes file definitions older than FileDefinitionTTL whose job
// is terminal or gone, together with their uploads, and staging files
// older than the TTL.
func (s *Sweeper) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	cutoff := s.now().Add(-s.cfg.FileDefinitionTTL)

	fds, err := s.store.ListFileDefinitionsCreatedBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	var errs []error
	for _, fd := range fds {
		exec, err := s.store.GetJobExecution(ctx, fd.JobExecutionID)
		switch {
		case err == nil && !exec.Status.IsTerminal():
			continue
		case err != nil && !exportstore.IsNotFound(err):
			errs = append(errs, err)
			continue
		}
		if s.objects != nil {
			if err := s.objects.RemoveFolder(ctx, objectstore.UploadFolder(fd.ID)); err != nil {
				errs = append(errs, fmt.Errorf("remove upload of %s: %w", fd.ID, err))
				continue
			}
		}
		if err := s.store.DeleteFileDefinition(ctx, fd.ID); err != nil && !exportstore.IsNotFound(err) {
			errs = append(errs, err)
			continue
		}
		res.FileDefinitions++
	}

	n, err := s.cleanStaging(cutoff)
	res.StagingFiles = n
	if err != nil {
		errs = append(errs, err)
	}

	if res.FileDefinitions > 0 || res.StagingFiles > 0 {
		s.logger.Info("cleanup sweep finished",
			zap.Int("file_definitions", res.FileDefinitions),
			zap.Int("staging_files", res.StagingFiles))
	}
	return res, errors.Join(errs...)
}

func (s *Sweeper) cleanStaging(cutoff time.Time) (int, error) {
	if s.cfg.StagingDir == "" {
		return 0, nil
	}
	if _, err := os.Stat(s.cfg.StagingDir); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	matches, err := doublestar.Glob(os.DirFS(s.cfg.StagingDir), s.cfg.StagingPattern)
	if err != nil {
		return 0, fmt.Errorf("glob staging files: %w", err)
	}
	removed := 0
	for _, m := range matches {
		p := filepath.Join(s.cfg.StagingDir, filepath.FromSlash(m))
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil {
			s.logger.Warn("remove staging file", zap.String("path", p), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// shortDuration renders d without zero trailing units, e.g. 1h rather
// than 1h0m0s.
func shortDuration(d time.Duration) string {
	out := d.String()
	if strings.HasSuffix(out, "m0s") {
		out = strings.TrimSuffix(out, "0s")
	}
	if strings.HasSuffix(out, "h0m") {
		out = strings.TrimSuffix(out, "0m")
	}
	return out
}
