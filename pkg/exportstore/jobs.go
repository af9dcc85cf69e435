package exportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/folio-org/mod-data-export/pkg/job"
)

const jobColumns = `id, hrid, status, job_profile_id, job_profile_name,
	run_by_user_id, run_by_first_name, run_by_last_name,
	started_at, last_updated_at, completed_at,
	progress_total, progress_exported, progress_failed, progress_read, progress_total_to_read,
	exported_files`

// ErrJobTerminal is returned when writing to a job that already reached
// COMPLETED, COMPLETED_WITH_ERRORS or FAIL.
var ErrJobTerminal = errors.New("job execution is terminal")

// notTerminal matches job rows that may still change.
const notTerminal = `status NOT IN ('COMPLETED', 'COMPLETED_WITH_ERRORS', 'FAIL')`

// JobQuery filters ListJobExecutions.
type JobQuery struct {
	Statuses []job.Status
	Limit    int
	Offset   int
}

// CreateJobExecution inserts e, assigning its id (when empty), its HRID from
// the shared counter and NEW status. The counter increment and the insert
// share a transaction so HRIDs stay unique and monotonic.
func (s *Store) CreateJobExecution(ctx context.Context, e *job.Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = job.StatusNew
	}
	if e.LastUpdatedDate.IsZero() {
		e.LastUpdatedDate = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE job_execution_hrid SET last_value = last_value + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("increment hrid: %w", err)
	}
	var hrid int64
	if err := tx.QueryRowContext(ctx, `SELECT last_value FROM job_execution_hrid WHERE id = 1`).Scan(&hrid); err != nil {
		return fmt.Errorf("read hrid: %w", err)
	}
	e.HRID = hrid

	files, err := encodeExportedFiles(e.ExportedFiles)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_executions (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.HRID, string(e.Status), e.JobProfileID, e.JobProfileName,
		e.RunBy.UserID, e.RunBy.FirstName, e.RunBy.LastName,
		formatTimePtr(e.StartedDate), formatTime(e.LastUpdatedDate), formatTimePtr(e.CompletedDate),
		e.Progress.Total, e.Progress.Exported, e.Progress.Failed, e.Progress.Read, e.Progress.TotalToRead,
		files)
	if err != nil {
		return fmt.Errorf("insert job execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job execution: %w", err)
	}
	return nil
}

// GetJobExecution loads a job by id.
func (s *Store) GetJobExecution(ctx context.Context, id string) (*job.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_executions WHERE id = ?`, id)
	e, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateJobExecution overwrites the mutable fields of e. The caller owns
// LastUpdatedDate; a zero value is replaced by the current time. A job
// whose stored status is terminal is never modified; such an attempt
// returns ErrJobTerminal.
func (s *Store) UpdateJobExecution(ctx context.Context, e *job.Execution) error {
	if e.LastUpdatedDate.IsZero() {
		e.LastUpdatedDate = s.now()
	}
	files, err := encodeExportedFiles(e.ExportedFiles)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET
		   status = ?, job_profile_id = ?, job_profile_name = ?,
		   run_by_user_id = ?, run_by_first_name = ?, run_by_last_name = ?,
		   started_at = ?, last_updated_at = ?, completed_at = ?,
		   progress_total = ?, progress_exported = ?, progress_failed = ?,
		   progress_read = ?, progress_total_to_read = ?, exported_files = ?
		 WHERE id = ? AND `+notTerminal,
		string(e.Status), e.JobProfileID, e.JobProfileName,
		e.RunBy.UserID, e.RunBy.FirstName, e.RunBy.LastName,
		formatTimePtr(e.StartedDate), formatTime(e.LastUpdatedDate), formatTimePtr(e.CompletedDate),
		e.Progress.Total, e.Progress.Exported, e.Progress.Failed,
		e.Progress.Read, e.Progress.TotalToRead, files,
		e.ID)
	if err != nil {
		return fmt.Errorf("update job execution: %w", err)
	}
	return s.requireLiveJob(ctx, res, e.ID)
}

// UpdateReadProgress sets the read counters and touches last_updated_at of
// a job that is not terminal.
func (s *Store) UpdateReadProgress(ctx context.Context, jobID string, read, totalToRead int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET progress_read = ?, progress_total_to_read = ?, last_updated_at = ?
		 WHERE id = ? AND `+notTerminal,
		read, totalToRead, formatTime(s.now()), jobID)
	if err != nil {
		return fmt.Errorf("update read progress: %w", err)
	}
	return s.requireLiveJob(ctx, res, jobID)
}

// SetFailedCompletedDate fills completed_at of a FAIL job that lacks one.
// Other jobs are left alone and reported as ErrNotFound.
func (s *Store) SetFailedCompletedDate(ctx context.Context, jobID string, completed time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET completed_at = ?
		 WHERE id = ? AND status = ? AND (completed_at IS NULL OR completed_at = '')`,
		formatTime(completed), jobID, string(job.StatusFail))
	if err != nil {
		return fmt.Errorf("set completed date: %w", err)
	}
	return requireAffected(res, "open failed job execution", jobID)
}

// requireLiveJob tells a missing job from a terminal one when a guarded
// update touched no row.
func (s *Store) requireLiveJob(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJobExecution(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("job execution %s: %w", jobID, ErrJobTerminal)
}

// ListJobExecutions returns jobs ordered by HRID descending and the total
// number of rows matching q before paging.
func (s *Store) ListJobExecutions(ctx context.Context, q JobQuery) ([]job.Execution, int, error) {
	var where string
	var args []any
	if len(q.Statuses) > 0 {
		placeholders := make([]string, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(st))
		}
		where = ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count job executions: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	pageArgs := append(append([]any{}, args...), limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_executions`+where+` ORDER BY hrid DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list job executions: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListStaleJobs returns jobs with the given status whose last update is
// older than before.
func (s *Store) ListStaleJobs(ctx context.Context, status job.Status, before time.Time) ([]job.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_executions
		 WHERE status = ? AND last_updated_at < ?
		 ORDER BY last_updated_at`,
		string(status), formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListFailedWithoutCompletedDate returns FAIL jobs missing completed_at.
func (s *Store) ListFailedWithoutCompletedDate(ctx context.Context) ([]job.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM job_executions
		 WHERE status = ? AND (completed_at IS NULL OR completed_at = '')`,
		string(job.StatusFail))
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	return collectJobs(rows)
}

// DeleteJobExecution removes a job together with its identifiers, file
// units, error logs and file definitions.
func (s *Store) DeleteJobExecution(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM export_ids WHERE job_execution_id = ?`,
		`DELETE FROM export_file_units WHERE job_execution_id = ?`,
		`DELETE FROM error_logs WHERE job_execution_id = ?`,
		`DELETE FROM file_definitions WHERE job_execution_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete job dependents: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM job_executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job execution: %w", err)
	}
	if err := requireAffected(res, "job execution", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Execution, error) {
	var (
		e                                   job.Execution
		status                              string
		profileID, profileName              sql.NullString
		userID, firstName, lastName         sql.NullString
		startedAt, completedAt, exportFiles sql.NullString
		lastUpdated                         string
	)
	err := row.Scan(&e.ID, &e.HRID, &status, &profileID, &profileName,
		&userID, &firstName, &lastName,
		&startedAt, &lastUpdated, &completedAt,
		&e.Progress.Total, &e.Progress.Exported, &e.Progress.Failed, &e.Progress.Read, &e.Progress.TotalToRead,
		&exportFiles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job execution: %w", err)
	}

	e.Status = job.Status(status)
	e.JobProfileID = profileID.String
	e.JobProfileName = profileName.String
	e.RunBy = job.RunBy{UserID: userID.String, FirstName: firstName.String, LastName: lastName.String}

	if e.LastUpdatedDate, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	if e.StartedDate, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if e.CompletedDate, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if exportFiles.Valid && exportFiles.String != "" {
		if err := json.Unmarshal([]byte(exportFiles.String), &e.ExportedFiles); err != nil {
			return nil, fmt.Errorf("decode exported files: %w", err)
		}
	}
	return &e, nil
}

func collectJobs(rows *sql.Rows) ([]job.Execution, error) {
	defer func() { _ = rows.Close() }()

	var jobs []job.Execution
	for rows.Next() {
		e, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job executions: %w", err)
	}
	return jobs, nil
}

func encodeExportedFiles(files []job.ExportedFile) (any, error) {
	if len(files) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("encode exported files: %w", err)
	}
	return string(data), nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
