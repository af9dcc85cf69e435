package exportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/folio-org/mod-data-export/pkg/job"
)

// ErrUnitTerminal is returned when updating a unit that already finished.
var ErrUnitTerminal = errors.New("file unit is terminal")

const unitColumns = `id, job_execution_id, file_name, file_location, from_id, to_id,
	record_count, status, exported, failed, error_message, updated_at`

// UnitSummary aggregates the durable state of a job's file units.
type UnitSummary struct {
	Units         int
	Pending       int
	Active        int
	Completed     int
	Failed        int
	Exported      int64
	FailedRecords int64
}

// AllTerminal reports whether every unit reached COMPLETED or FAILED.
func (u UnitSummary) AllTerminal() bool {
	return u.Pending == 0 && u.Active == 0
}

// ListFileUnits returns the job's units ordered by lower id bound.
func (s *Store) ListFileUnits(ctx context.Context, jobID string) ([]job.FileUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM export_file_units WHERE job_execution_id = ? ORDER BY from_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list file units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []job.FileUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file units: %w", err)
	}
	return units, nil
}

// GetFileUnit loads one unit.
func (s *Store) GetFileUnit(ctx context.Context, id string) (*job.FileUnit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM export_file_units WHERE id = ?`, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file unit %s: %w", id, ErrNotFound)
	}
	return u, err
}

// UpdateFileUnit persists status and counters of u. Terminal units are
// never modified; such an attempt returns ErrUnitTerminal.
func (s *Store) UpdateFileUnit(ctx context.Context, u *job.FileUnit) error {
	u.UpdatedDate = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE export_file_units
		 SET status = ?, exported = ?, failed = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(u.Status), u.Exported, u.Failed, u.ErrorMessage, formatTime(u.UpdatedDate),
		u.ID, string(job.UnitCompleted), string(job.UnitFailed))
	if err != nil {
		return fmt.Errorf("update file unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetFileUnit(ctx, u.ID); err != nil {
		return err
	}
	return fmt.Errorf("file unit %s: %w", u.ID, ErrUnitTerminal)
}

// SummarizeFileUnits aggregates unit statuses and counters for a job.
func (s *Store) SummarizeFileUnits(ctx context.Context, jobID string) (UnitSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(exported), 0), COALESCE(SUM(failed), 0)
		 FROM export_file_units WHERE job_execution_id = ? GROUP BY status`, jobID)
	if err != nil {
		return UnitSummary{}, fmt.Errorf("summarize file units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sum UnitSummary
	for rows.Next() {
		var (
			status           string
			count            int
			exported, failed int64
		)
		if err := rows.Scan(&status, &count, &exported, &failed); err != nil {
			return UnitSummary{}, fmt.Errorf("scan unit summary: %w", err)
		}
		sum.Units += count
		sum.Exported += exported
		sum.FailedRecords += failed
		switch job.UnitStatus(status) {
		case job.UnitPending:
			sum.Pending += count
		case job.UnitActive:
			sum.Active += count
		case job.UnitCompleted:
			sum.Completed += count
		case job.UnitFailed:
			sum.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return UnitSummary{}, fmt.Errorf("iterate unit summary: %w", err)
	}
	return sum, nil
}

func scanUnit(row rowScanner) (*job.FileUnit, error) {
	var (
		u         job.FileUnit
		status    string
		errMsg    sql.NullString
		updatedAt string
	)
	err := row.Scan(&u.ID, &u.JobExecutionID, &u.FileName, &u.FileLocation, &u.FromID, &u.ToID,
		&u.Count, &status, &u.Exported, &u.Failed, &errMsg, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan file unit: %w", err)
	}
	u.Status = job.UnitStatus(status)
	u.ErrorMessage = errMsg.String
	if u.UpdatedDate, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
