// Package ingest materializes the identifier set of an export job from an
// uploaded delimited list or from a search query.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/exportstats"
	"github.com/folio-org/mod-data-export/pkg/gateway"
	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

const (
	// DefaultBatchSize is the number of lines deduplicated in memory and
	// flushed together.
	DefaultBatchSize = 1000

	// maxInvalidInErrorLog bounds how many invalid tokens one error log
	// entry lists.
	maxInvalidInErrorLog = 100

	maxLineBytes = 1 << 20
)

// Store is the persistence the ingester writes to.
type Store interface {
	InsertIdentifiers(ctx context.Context, jobID string, ids []string) (int64, error)
	UpdateReadProgress(ctx context.Context, jobID string, read, totalToRead int64) error
	SaveErrorLog(ctx context.Context, entry *job.ErrorLog) error
}

// SearchClient runs asynchronous id-collection jobs.
type SearchClient interface {
	SubmitIDsJob(ctx context.Context, query, entityType string) (*gateway.SearchJob, error)
	GetIDsJob(ctx context.Context, id string) (*gateway.SearchJob, error)
	JobIDs(ctx context.Context, id string, limit int) ([]string, error)
}

// Config configures an Ingester.
type Config struct {
	// BatchSize is the number of lines per in-memory dedup batch.
	// Default: 1000
	BatchSize int

	// PollInterval is the wait between search job polls.
	// Default: 2s
	PollInterval time.Duration

	// PollTimeout bounds how long a search job is awaited.
	// Default: 30m
	PollTimeout time.Duration

	Logger *zap.Logger
}

// Summary reports what one ingestion did.
type Summary struct {
	// LinesRead counts non-blank input lines.
	LinesRead int64

	// Persisted counts identifier entries newly written.
	Persisted int64

	// Invalid counts tokens that did not parse as identifiers.
	Invalid int64

	// DuplicatesInMemory counts repeats caught inside one batch.
	DuplicatesInMemory int64

	// DuplicatesAcrossBatches counts repeats only the store rejected.
	DuplicatesAcrossBatches int64
}

// Duplicates returns the total duplicate count.
func (s Summary) Duplicates() int64 { return s.DuplicatesInMemory + s.DuplicatesAcrossBatches }

// Ingester reads identifier sources into the store.
type Ingester struct {
	store   Store
	objects objectstore.Storage
	search  SearchClient
	cfg     Config
	logger  *zap.Logger
}

// New creates an Ingester. search may be nil when query mode is unused.
func New(store Store, objects objectstore.Storage, search SearchClient, cfg Config) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: store, objects: objects, search: search, cfg: cfg, logger: logger}
}

// Ingest reads fd into the identifier set of fd's job. Failures never
// escape: an unreadable source marks stats as failed to read input and
// the run continues with whatever was persisted.
func (i *Ingester) Ingest(ctx context.Context, fd *job.FileDefinition, stats *exportstats.Accumulator, kind job.IDType) Summary {
	log := i.logger.With(zap.String("job_id", fd.JobExecutionID), zap.String("file_definition_id", fd.ID))

	if fd.Format == job.FormatCQL {
		return i.ingestQuery(ctx, fd, stats, kind, log)
	}
	return i.ingestDelimited(ctx, fd, stats, log)
}

// ParseID canonicalizes one input line into an identifier. Surrounding
// whitespace and double quotes are stripped.
func ParseID(line string) (string, bool) {
	token := strings.TrimSpace(strings.ReplaceAll(line, `"`, ""))
	u, err := uuid.Parse(token)
	if err != nil {
		return token, false
	}
	return u.String(), true
}

func (i *Ingester) ingestDelimited(ctx context.Context, fd *job.FileDefinition, stats *exportstats.Accumulator, log *zap.Logger) Summary {
	var sum Summary
	jobID := fd.JobExecutionID

	totalToRead, err := i.countLines(ctx, fd.SourcePath)
	if err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}
	if err := i.store.UpdateReadProgress(ctx, jobID, 0, totalToRead); err != nil {
		log.Warn("failed to update read progress", zap.Error(err))
	}

	rc, err := i.objects.Read(ctx, fd.SourcePath)
	if err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}
	defer func() { _ = rc.Close() }()

	seen := make(map[string]struct{}, i.cfg.BatchSize)
	batch := make([]string, 0, i.cfg.BatchSize)
	var invalid []string
	linesInBatch := 0

	flush := func() error {
		if len(batch) > 0 {
			n, err := i.store.InsertIdentifiers(ctx, jobID, batch)
			if err != nil {
				return err
			}
			sum.Persisted += n
		}
		if err := i.store.UpdateReadProgress(ctx, jobID, sum.LinesRead, totalToRead); err != nil {
			log.Warn("failed to update read progress", zap.Error(err))
		}
		batch = batch[:0]
		clear(seen)
		linesInBatch = 0
		return nil
	}

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			i.failRead(ctx, fd, stats, log, err)
			return sum
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		sum.LinesRead++
		linesInBatch++

		id, ok := ParseID(line)
		switch {
		case !ok:
			sum.Invalid++
			stats.AddInvalid(id)
			invalid = append(invalid, id)
		default:
			if _, dup := seen[id]; dup {
				sum.DuplicatesInMemory++
			} else {
				seen[id] = struct{}{}
				batch = append(batch, id)
			}
		}

		if linesInBatch >= i.cfg.BatchSize {
			if err := flush(); err != nil {
				i.failRead(ctx, fd, stats, log, err)
				return sum
			}
		}
	}
	if err := scanner.Err(); err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}
	if err := flush(); err != nil {
		i.failRead(ctx, fd, stats, log, err)
		return sum
	}

	// Every batch entry is unique within its batch, so the remainder is
	// the ids the store already held: repeats across batches or from an
	// earlier ingestion of the same job.
	sum.DuplicatesAcrossBatches = sum.LinesRead - sum.Persisted - sum.DuplicatesInMemory - sum.Invalid
	stats.AddDuplicates(sum.Duplicates())

	i.recordInputErrors(ctx, fd, invalid, sum.Duplicates(), log)
	log.Info("identifiers ingested",
		zap.Int64("lines", sum.LinesRead),
		zap.Int64("persisted", sum.Persisted),
		zap.Int64("invalid", sum.Invalid),
		zap.Int64("duplicates", sum.Duplicates()),
	)
	return sum
}

func (i *Ingester) countLines(ctx context.Context, path string) (int64, error) {
	rc, err := i.objects.Read(ctx, path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	var n int64
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n, scanner.Err()
}

func (i *Ingester) recordInputErrors(ctx context.Context, fd *job.FileDefinition, invalid []string, duplicates int64, log *zap.Logger) {
	if len(invalid) > 0 {
		listed := invalid
		if len(listed) > maxInvalidInErrorLog {
			listed = listed[:maxInvalidInErrorLog]
		}
		i.saveError(ctx, fd, job.ErrorInvalidUUIDFormat, log, strings.Join(listed, ", "))
	}
	if duplicates > 0 {
		i.saveError(ctx, fd, job.ErrorDuplicatedIDs, log, fmt.Sprintf("%d", duplicates))
	}
}

func (i *Ingester) failRead(ctx context.Context, fd *job.FileDefinition, stats *exportstats.Accumulator, log *zap.Logger, err error) {
	stats.MarkFailedToReadInput()
	log.Error("failed to read input", zap.String("path", fd.SourcePath), zap.Error(err))
	i.saveError(ctx, fd, job.ErrorReadingFile, log, err.Error())
}

func (i *Ingester) saveError(ctx context.Context, fd *job.FileDefinition, code job.ErrorCode, log *zap.Logger, values ...string) {
	entry := &job.ErrorLog{
		JobExecutionID: fd.JobExecutionID,
		ErrorCode:      code,
		ErrorValues:    values,
	}
	if err := i.store.SaveErrorLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("failed to save error log", zap.String("code", string(code)), zap.Error(err))
	}
}

func readAll(ctx context.Context, objects objectstore.Storage, path string) (string, error) {
	rc, err := objects.Read(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxLineBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
