package exportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/folio-org/mod-data-export/pkg/job"
)

const fileDefinitionColumns = `id, job_execution_id, upload_format, file_name, status, source_path, size_bytes, created_at, updated_at`

// CreateFileDefinition inserts fd, assigning id and timestamps when unset.
func (s *Store) CreateFileDefinition(ctx context.Context, fd *job.FileDefinition) error {
	now := s.now()
	if fd.ID == "" {
		fd.ID = uuid.NewString()
	}
	if fd.Status == "" {
		fd.Status = job.FileDefinitionNew
	}
	if fd.Format == "" {
		fd.Format = job.FormatCSV
	}
	if fd.CreatedDate.IsZero() {
		fd.CreatedDate = now
	}
	fd.UpdatedDate = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_definitions (`+fileDefinitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fd.ID, fd.JobExecutionID, string(fd.Format), fd.FileName, string(fd.Status),
		fd.SourcePath, fd.Size, formatTime(fd.CreatedDate), formatTime(fd.UpdatedDate))
	if err != nil {
		return fmt.Errorf("insert file definition: %w", err)
	}
	return nil
}

// GetFileDefinition loads a file definition by id.
func (s *Store) GetFileDefinition(ctx context.Context, id string) (*job.FileDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileDefinitionColumns+` FROM file_definitions WHERE id = ?`, id)
	fd, err := scanFileDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file definition %s: %w", id, ErrNotFound)
	}
	return fd, err
}

// UpdateFileDefinition overwrites status, path, size and updated_at.
func (s *Store) UpdateFileDefinition(ctx context.Context, fd *job.FileDefinition) error {
	fd.UpdatedDate = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_definitions SET status = ?, source_path = ?, size_bytes = ?, upload_format = ?, updated_at = ? WHERE id = ?`,
		string(fd.Status), fd.SourcePath, fd.Size, string(fd.Format), formatTime(fd.UpdatedDate), fd.ID)
	if err != nil {
		return fmt.Errorf("update file definition: %w", err)
	}
	return requireAffected(res, "file definition", fd.ID)
}

// ListFileDefinitionsCreatedBefore returns definitions older than before.
func (s *Store) ListFileDefinitionsCreatedBefore(ctx context.Context, before time.Time) ([]job.FileDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileDefinitionColumns+` FROM file_definitions WHERE created_at < ? ORDER BY created_at`,
		formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("list file definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []job.FileDefinition
	for rows.Next() {
		fd, err := scanFileDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file definitions: %w", err)
	}
	return out, nil
}

// DeleteFileDefinition removes a single file definition row.
func (s *Store) DeleteFileDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file definition: %w", err)
	}
	return requireAffected(res, "file definition", id)
}

func scanFileDefinition(row rowScanner) (*job.FileDefinition, error) {
	var (
		fd                   job.FileDefinition
		format, status       string
		sourcePath           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&fd.ID, &fd.JobExecutionID, &format, &fd.FileName, &status,
		&sourcePath, &fd.Size, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan file definition: %w", err)
	}
	fd.Format = job.FileFormat(format)
	fd.Status = job.FileDefinitionStatus(status)
	fd.SourcePath = sourcePath.String
	if fd.CreatedDate, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if fd.UpdatedDate, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &fd, nil
}
