package exportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/folio-org/mod-data-export/pkg/job"
)

const errorLogColumns = `id, job_execution_id, job_profile_id, error_code, error_values, message,
	affected_record_id, affected_record_type, created_at`

// SaveErrorLog appends an entry to the job's error log. The log of a
// terminal job is closed: such an append returns ErrJobTerminal. Entries
// for ids without a job row are kept.
func (s *Store) SaveErrorLog(ctx context.Context, entry *job.ErrorLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedDate.IsZero() {
		entry.CreatedDate = s.now()
	}
	if entry.Message == "" {
		entry.Message = entry.ErrorCode.Format(entry.ErrorValues...)
	}
	values, err := encodeValues(entry.ErrorValues)
	if err != nil {
		return err
	}
	var recID, recType any
	if entry.AffectedRecord != nil {
		recID, recType = entry.AffectedRecord.ID, entry.AffectedRecord.Type
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (`+errorLogColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM job_executions WHERE id = ? AND NOT (`+notTerminal+`))`,
		entry.ID, entry.JobExecutionID, entry.JobProfileID, string(entry.ErrorCode), values,
		entry.Message, recID, recType, formatTime(entry.CreatedDate),
		entry.JobExecutionID)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("error log of job execution %s: %w", entry.JobExecutionID, ErrJobTerminal)
	}
	return nil
}

// ListErrorLogs returns the job's entries, newest first.
func (s *Store) ListErrorLogs(ctx context.Context, jobID string) ([]job.ErrorLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+errorLogColumns+` FROM error_logs WHERE job_execution_id = ? ORDER BY created_at DESC, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []job.ErrorLog
	for rows.Next() {
		var (
			e               job.ErrorLog
			code, createdAt string
			profileID       sql.NullString
			values          sql.NullString
			recID, recType  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.JobExecutionID, &profileID, &code, &values, &e.Message,
			&recID, &recType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error log: %w", err)
		}
		e.ErrorCode = job.ErrorCode(code)
		e.JobProfileID = profileID.String
		if values.Valid && values.String != "" {
			if err := json.Unmarshal([]byte(values.String), &e.ErrorValues); err != nil {
				return nil, fmt.Errorf("decode error values: %w", err)
			}
		}
		if recID.Valid || recType.Valid {
			e.AffectedRecord = &job.AffectedRecord{ID: recID.String, Type: recType.String}
		}
		if e.CreatedDate, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error logs: %w", err)
	}
	return out, nil
}

// CountErrorLogs returns the number of entries attributed to the job.
func (s *Store) CountErrorLogs(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM error_logs WHERE job_execution_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count error logs: %w", err)
	}
	return n, nil
}

// ReplaceErrorLogs collapses the job's error log into the single entry
// replacement. The oldest existing row is kept and rewritten; every other
// row is deleted. With no existing rows, replacement is inserted.
func (s *Store) ReplaceErrorLogs(ctx context.Context, jobID string, replacement job.ErrorLog) error {
	if replacement.Message == "" {
		replacement.Message = replacement.ErrorCode.Format(replacement.ErrorValues...)
	}
	values, err := encodeValues(replacement.ErrorValues)
	if err != nil {
		return err
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var keepID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM error_logs WHERE job_execution_id = ? ORDER BY created_at, id LIMIT 1`, jobID).Scan(&keepID)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO error_logs (`+errorLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
			uuid.NewString(), jobID, replacement.JobProfileID, string(replacement.ErrorCode), values,
			replacement.Message, now)
		if err != nil {
			return fmt.Errorf("insert replacement error log: %w", err)
		}
	case err != nil:
		return fmt.Errorf("select error log: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM error_logs WHERE job_execution_id = ? AND id <> ?`, jobID, keepID); err != nil {
			return fmt.Errorf("delete error logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE error_logs SET job_profile_id = ?, error_code = ?, error_values = ?, message = ?,
			   affected_record_id = NULL, affected_record_type = NULL, created_at = ?
			 WHERE id = ?`,
			replacement.JobProfileID, string(replacement.ErrorCode), values, replacement.Message, now, keepID); err != nil {
			return fmt.Errorf("rewrite error log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit error logs: %w", err)
	}
	return nil
}

func encodeValues(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode error values: %w", err)
	}
	return string(data), nil
}
