package exportstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/folio-org/mod-data-export/pkg/job"
)

// Placeholders recognised in PartitionSpec.FileNameTemplate.
const (
	PlaceholderFrom = "{from}"
	PlaceholderTo   = "{to}"
)

// PartitionSpec parameterises a partitioning run.
type PartitionSpec struct {
	// SliceSize is the maximum number of ids per unit.
	SliceSize int

	// FileNameTemplate names each unit; {from} and {to} are replaced by the
	// unit's lower and upper id bound.
	FileNameTemplate string

	// LocationPrefix is joined with the file name to form the storage path.
	LocationPrefix string
}

func (p PartitionSpec) validate() error {
	if p.SliceSize <= 0 {
		return fmt.Errorf("slice size must be positive, got %d", p.SliceSize)
	}
	if !strings.Contains(p.FileNameTemplate, PlaceholderFrom) || !strings.Contains(p.FileNameTemplate, PlaceholderTo) {
		return errors.New("file name template must contain {from} and {to}")
	}
	return nil
}

// CatalogFilter narrows an export-all partition over the catalog replica.
type CatalogFilter struct {
	Kind              string
	IncludeDeleted    bool
	IncludeSuppressed bool
}

// PartitionIdentifiers slices the job's ingested identifier set.
func (s *Store) PartitionIdentifiers(ctx context.Context, jobID string, spec PartitionSpec) ([]job.FileUnit, error) {
	query := `SELECT MIN(record_id), MAX(record_id), COUNT(*) FROM (
		SELECT record_id, (ROW_NUMBER() OVER (ORDER BY record_id) - 1) / ? AS grp
		FROM export_ids WHERE job_execution_id = ?
	) GROUP BY grp ORDER BY grp`
	return s.partition(ctx, jobID, spec, query, spec.SliceSize, jobID)
}

// PartitionCatalog slices every replica record of filter.Kind.
func (s *Store) PartitionCatalog(ctx context.Context, jobID string, filter CatalogFilter, spec PartitionSpec) ([]job.FileUnit, error) {
	if filter.Kind == "" {
		return nil, errors.New("catalog kind is required")
	}
	query := `SELECT MIN(id), MAX(id), COUNT(*) FROM (
		SELECT id, (ROW_NUMBER() OVER (ORDER BY id) - 1) / ? AS grp
		FROM catalog_records
		WHERE kind = ? AND (? = 1 OR deleted = 0) AND (? = 1 OR suppressed = 0)
	) GROUP BY grp ORDER BY grp`
	return s.partition(ctx, jobID, spec, query,
		spec.SliceSize, filter.Kind, boolInt(filter.IncludeDeleted), boolInt(filter.IncludeSuppressed))
}

// partition replaces the job's units with one unit per range returned by
// query, atomically.
func (s *Store) partition(ctx context.Context, jobID string, spec PartitionSpec, query string, args ...any) ([]job.FileUnit, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ranges, err := queryRanges(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM export_file_units WHERE job_execution_id = ?`, jobID); err != nil {
		return nil, fmt.Errorf("clear file units: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO export_file_units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert file unit: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	units := make([]job.FileUnit, 0, len(ranges))
	for _, r := range ranges {
		name := strings.NewReplacer(PlaceholderFrom, r.from, PlaceholderTo, r.to).Replace(spec.FileNameTemplate)
		u := job.FileUnit{
			ID:             uuid.NewString(),
			JobExecutionID: jobID,
			FileName:       name,
			FileLocation:   path.Join(spec.LocationPrefix, name),
			FromID:         r.from,
			ToID:           r.to,
			Count:          r.count,
			Status:         job.UnitPending,
			UpdatedDate:    now,
		}
		if _, err := stmt.ExecContext(ctx, u.ID, u.JobExecutionID, u.FileName, u.FileLocation,
			u.FromID, u.ToID, u.Count, string(u.Status), formatTime(now)); err != nil {
			return nil, fmt.Errorf("insert file unit: %w", err)
		}
		units = append(units, u)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit partition: %w", err)
	}
	return units, nil
}

type idRange struct {
	from, to string
	count    int64
}

func queryRanges(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]idRange, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("partition query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ranges []idRange
	for rows.Next() {
		var r idRange
		if err := rows.Scan(&r.from, &r.to, &r.count); err != nil {
			return nil, fmt.Errorf("scan partition range: %w", err)
		}
		ranges = append(ranges, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition ranges: %w", err)
	}
	return ranges, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
