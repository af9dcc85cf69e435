package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/folio-org/mod-data-export/pkg/job"
)

// Writer outputs JSONL records for CLI results.
//
// Implementations must be safe for concurrent use. Each Write* method emits
// one complete line.
type Writer interface {
	WriteJob(ctx context.Context, e *job.Execution) error
	WriteUnit(ctx context.Context, u *job.FileUnit) error
	WriteErrorLog(ctx context.Context, l *job.ErrorLog) error
	WriteFileDefinition(ctx context.Context, fd *job.FileDefinition) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSweep(ctx context.Context, sweep *SweepRecord) error
	WriteCatalog(ctx context.Context, c *CatalogRecord) error

	// Close marks the writer closed. The underlying io.Writer is left open.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w      io.Writer
	tenant string
	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

// NewJSONLWriter creates a JSONL writer stamping every record with tenant.
func NewJSONLWriter(w io.Writer, tenant string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		tenant: tenant,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, e *job.Execution) error {
	return jw.writeRecord(ctx, TypeJob, e.ID, e)
}

func (jw *JSONLWriter) WriteUnit(ctx context.Context, u *job.FileUnit) error {
	return jw.writeRecord(ctx, TypeUnit, u.JobExecutionID, u)
}

func (jw *JSONLWriter) WriteErrorLog(ctx context.Context, l *job.ErrorLog) error {
	return jw.writeRecord(ctx, TypeErrorLog, l.JobExecutionID, l)
}

func (jw *JSONLWriter) WriteFileDefinition(ctx context.Context, fd *job.FileDefinition) error {
	return jw.writeRecord(ctx, TypeFileDef, fd.JobExecutionID, fd)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, "", err)
}

func (jw *JSONLWriter) WriteSweep(ctx context.Context, sweep *SweepRecord) error {
	if sweep.DurationHuman == "" {
		sweep.DurationHuman = sweep.Duration.String()
	}
	return jw.writeRecord(ctx, TypeSweep, "", sweep)
}

func (jw *JSONLWriter) WriteCatalog(ctx context.Context, c *CatalogRecord) error {
	return jw.writeRecord(ctx, TypeCatalog, "", c)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line while
// holding the mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType, jobID string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recordBytes, err := json.Marshal(Record{
		Type:   recordType,
		TS:     jw.now(),
		Tenant: jw.tenant,
		JobID:  jobID,
		Data:   dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, looping over short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
