package exportstore

import (
	"context"
	"fmt"
)

// InsertIdentifiers adds ids to the job's identifier set and returns how
// many rows were actually persisted. Pairs already present are ignored by
// the primary key, so concurrent writers never produce duplicates.
func (s *Store) InsertIdentifiers(ctx context.Context, jobID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO export_ids (job_execution_id, record_id) VALUES (?, ?)
		 ON CONFLICT(job_execution_id, record_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert identifier: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var persisted int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, jobID, id)
		if err != nil {
			return 0, fmt.Errorf("insert identifier: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		persisted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit identifiers: %w", err)
	}
	return persisted, nil
}

// CountIdentifiers returns the size of the job's identifier set.
func (s *Store) CountIdentifiers(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM export_ids WHERE job_execution_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identifiers: %w", err)
	}
	return n, nil
}

// ListIdentifiersInRange returns the job's ids in [from, to], ascending.
func (s *Store) ListIdentifiersInRange(ctx context.Context, jobID, from, to string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM export_ids
		 WHERE job_execution_id = ? AND record_id >= ? AND record_id <= ?
		 ORDER BY record_id`,
		jobID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return ids, nil
}

// DeleteIdentifiers drops the job's identifier set.
func (s *Store) DeleteIdentifiers(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM export_ids WHERE job_execution_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete identifiers: %w", err)
	}
	return nil
}
