// Package fetch resolves identifier lists into full records with bounded
// concurrency.
//
// A fetch call splits ids into fixed-size chunks and runs one task per
// chunk on a shared Pool. Successful chunks are merged under a lock;
// failed chunks are logged, recorded against the job and skipped, so one
// bad chunk never aborts its siblings.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/pkg/job"
	"github.com/folio-org/mod-data-export/pkg/retry"
)

const (
	// DefaultChunkSize is the number of ids per bulk query.
	DefaultChunkSize = 15

	// DefaultTimeout is the upper bound on one fetch call.
	DefaultTimeout = time.Hour
)

// RecordSource resolves ids of one kind. Missing ids are absent from the
// result rather than reported as errors.
type RecordSource interface {
	FetchByIDs(ctx context.Context, kind job.IDType, ids []string, limit int) ([]job.Record, error)
}

// ErrorRecorder persists job-level error entries.
type ErrorRecorder interface {
	SaveErrorLog(ctx context.Context, entry *job.ErrorLog) error
}

// Config configures a Client.
type Config struct {
	// ChunkSize is the number of ids per bulk query.
	// Default: 15
	ChunkSize int

	// Timeout bounds one FetchByIDs call. Zero means no bound.
	// Default: 1h
	Timeout time.Duration

	// Retry controls per-chunk retries.
	Retry retry.Config

	// Retryable classifies chunk errors. Nil retries every error.
	Retryable func(error) bool

	// MeterProvider supplies instruments. Nil uses the global provider.
	MeterProvider metric.MeterProvider

	Logger *zap.Logger
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Timeout:   DefaultTimeout,
		Retry:     retry.DefaultConfig(),
	}
}

// Request describes one fetch call.
type Request struct {
	JobID        string
	JobProfileID string
	Tenant       string
	Kind         job.IDType
	IDs          []string
}

// Result is the merged output of a fetch call.
type Result struct {
	// Records holds the merged records in chunk completion order.
	Records []job.Record

	// TotalRecords is len(Records). It is lower than the id count when
	// ids were not found or chunks failed.
	TotalRecords int

	// Chunks is the number of chunk tasks planned.
	Chunks int

	// FailedChunks is the number of chunks that returned no records due
	// to an error, including chunks never started because of a timeout.
	FailedChunks int

	// FailedIDs lists the ids of failed chunks.
	FailedIDs []string

	// TimedOut reports that Timeout elapsed before all chunks finished.
	TimedOut bool
}

// Client is the bulk fetch client. It is safe for concurrent use.
type Client struct {
	source    RecordSource
	pool      *Pool
	errors    ErrorRecorder
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics
	retryable func(error) bool
}

// New creates a Client. pool is shared across calls; errs may be nil.
func New(source RecordSource, pool *Pool, errs ErrorRecorder, cfg Config) (*Client, error) {
	if source == nil {
		return nil, errors.New("fetch: record source is required")
	}
	if pool == nil {
		pool = NewPool(DefaultConcurrency)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("fetch: metrics: %w", err)
	}
	return &Client{
		source:    source,
		pool:      pool,
		errors:    errs,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		retryable: cfg.Retryable,
	}, nil
}

// Pool returns the pool the client submits to.
func (c *Client) Pool() *Pool { return c.pool }

// Chunk splits ids into consecutive chunks of at most size ids.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// FetchByIDs resolves req.IDs. Chunk failures are reported in the result
// and through the ErrorRecorder; the returned error is non-nil only when
// ctx itself was cancelled before any chunk could be planned.
func (c *Client) FetchByIDs(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := Chunk(req.IDs, c.cfg.ChunkSize)
	res := &Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	fetchCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	merge := func(records []job.Record) {
		mu.Lock()
		res.Records = append(res.Records, records...)
		mu.Unlock()
	}
	fail := func(ids []string) {
		mu.Lock()
		res.FailedChunks++
		res.FailedIDs = append(res.FailedIDs, ids...)
		mu.Unlock()
	}

	for i, chunk := range chunks {
		chunk := chunk
		index := i
		err := c.pool.Go(fetchCtx, &wg, func() {
			records, err := c.fetchChunk(fetchCtx, req, index, chunk)
			if err != nil {
				fail(chunk)
				c.reportChunkFailure(ctx, req, index, chunk, err)
				return
			}
			merge(records)
		})
		if err != nil {
			// Remaining chunks are never started.
			for _, rest := range chunks[i:] {
				fail(rest)
			}
			c.reportChunkFailure(ctx, req, i, chunks[i], fmt.Errorf("%d chunks not started: %w", len(chunks)-i, err))
			break
		}
	}
	wg.Wait()

	res.TotalRecords = len(res.Records)
	res.TimedOut = errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if res.TimedOut {
		c.logger.Warn("fetch timed out",
			zap.String("job_id", req.JobID),
			zap.String("tenant", req.Tenant),
			zap.Duration("timeout", c.cfg.Timeout),
			zap.Int("failed_chunks", res.FailedChunks),
		)
	}
	return res, nil
}

func (c *Client) fetchChunk(ctx context.Context, req Request, index int, ids []string) (records []job.Record, err error) {
	start := time.Now()
	kind := req.Kind.Kind()
	defer func() {
		c.metrics.observeChunk(context.WithoutCancel(ctx), kind, err == nil, len(records), time.Since(start))
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk %d panicked: %v", index, r)
		}
	}()

	notify := func(err error, attempt int, wait time.Duration) {
		c.metrics.incRetry(ctx, kind)
		c.logger.Debug("retrying chunk fetch",
			zap.String("job_id", req.JobID),
			zap.Int("chunk", index),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err = retry.Do(ctx, c.cfg.Retry, c.retryable, notify, func(ctx context.Context) error {
		var fetchErr error
		records, fetchErr = c.source.FetchByIDs(ctx, req.Kind, ids, len(ids))
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) reportChunkFailure(ctx context.Context, req Request, index int, ids []string, err error) {
	c.logger.Error("chunk fetch failed",
		zap.String("job_id", req.JobID),
		zap.String("tenant", req.Tenant),
		zap.String("kind", req.Kind.Kind()),
		zap.Int("chunk", index),
		zap.Int("ids", len(ids)),
		zap.Error(err),
	)
	if c.errors == nil || req.JobID == "" {
		return
	}
	entry := &job.ErrorLog{
		JobExecutionID: req.JobID,
		JobProfileID:   req.JobProfileID,
		ErrorCode:      job.ErrorFetchChunk,
		ErrorValues:    []string{err.Error()},
	}
	if saveErr := c.errors.SaveErrorLog(context.WithoutCancel(ctx), entry); saveErr != nil {
		c.logger.Warn("failed to save chunk error",
			zap.String("job_id", req.JobID),
			zap.Error(saveErr),
		)
	}
}
