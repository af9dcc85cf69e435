// Package output provides JSONL output for CLI commands.
//
// Every line is a typed envelope around a job execution, file unit, error
// log entry, sweep report or CLI-side failure, so results can be piped to
// other tools and parsed line by line.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types follow the pattern dataexport.<type>.v<version>.
const (
	TypeJob       = "dataexport.job.v1"
	TypeUnit      = "dataexport.unit.v1"
	TypeErrorLog  = "dataexport.errorlog.v1"
	TypeError     = "dataexport.error.v1"
	TypeSweep     = "dataexport.sweep.v1"
	TypeFileDef   = "dataexport.filedefinition.v1"
	TypeCatalog   = "dataexport.catalog.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// Tenant the command ran for.
	Tenant string `json:"tenant"`

	// JobID correlates the record with a job execution, if any.
	JobID string `json:"job_id,omitempty"`

	Data json.RawMessage `json:"data"`
}

// ErrorRecord reports a failure of the CLI command itself, as opposed to
// error log entries persisted for a job.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeValidation = "VALIDATION"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeInternal   = "INTERNAL"
)

// SweepRecord reports one maintenance sweep.
type SweepRecord struct {
	// Sweep is "expire" or "cleanup".
	Sweep string `json:"sweep"`

	Expired         int `json:"expired,omitempty"`
	Repaired        int `json:"repaired,omitempty"`
	FileDefinitions int `json:"file_definitions,omitempty"`
	StagingFiles    int `json:"staging_files,omitempty"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// CatalogRecord reports a local catalog load.
type CatalogRecord struct {
	Kind    string `json:"kind"`
	Loaded  int    `json:"loaded"`
	Source  string `json:"source"`
	Deleted int    `json:"deleted,omitempty"`
}

// Writer errors.
var (
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
