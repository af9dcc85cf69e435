package exportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/folio-org/mod-data-export/pkg/job"
)

// CatalogRecord is one row of the local catalog replica.
type CatalogRecord struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Deleted    bool            `json:"deleted"`
	Suppressed bool            `json:"discoverySuppress"`
	UpdatedAt  time.Time       `json:"updatedDate"`
	Content    json.RawMessage `json:"content"`
}

// UpsertCatalogRecords inserts or replaces replica rows in one transaction.
func (s *Store) UpsertCatalogRecords(ctx context.Context, records []CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO catalog_records (id, kind, deleted, suppressed, updated_at, content)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET
		   deleted = excluded.deleted,
		   suppressed = excluded.suppressed,
		   updated_at = excluded.updated_at,
		   content = excluded.content`)
	if err != nil {
		return fmt.Errorf("prepare upsert catalog record: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	for _, r := range records {
		updated := r.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		content := string(r.Content)
		if content == "" {
			content = "{}"
		}
		if _, err := stmt.ExecContext(ctx, strings.ToLower(r.ID), r.Kind,
			boolInt(r.Deleted), boolInt(r.Suppressed), formatTime(updated), content); err != nil {
			return fmt.Errorf("upsert catalog record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog records: %w", err)
	}
	return nil
}

// ListCatalogRecordsInRange reads replica records with ids in [from, to]
// that pass filter, ascending by id.
func (s *Store) ListCatalogRecordsInRange(ctx context.Context, filter CatalogFilter, from, to string) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM catalog_records
		 WHERE kind = ? AND id >= ? AND id <= ?
		   AND (? = 1 OR deleted = 0) AND (? = 1 OR suppressed = 0)
		 ORDER BY id`,
		filter.Kind, from, to, boolInt(filter.IncludeDeleted), boolInt(filter.IncludeSuppressed))
	if err != nil {
		return nil, fmt.Errorf("list catalog records: %w", err)
	}
	return collectRecords(rows)
}

// FindCatalogRecords returns the replica records of kind among ids.
// Missing ids are simply absent from the result.
func (s *Store) FindCatalogRecords(ctx context.Context, kind string, ids []string) ([]job.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, kind)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM catalog_records WHERE kind = ? AND id IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("find catalog records: %w", err)
	}
	return collectRecords(rows)
}

// ListDeletedCatalogIDs returns ids of kind marked deleted with an update
// time in [from, to].
func (s *Store) ListDeletedCatalogIDs(ctx context.Context, kind string, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM catalog_records
		 WHERE kind = ? AND deleted = 1 AND updated_at >= ? AND updated_at <= ?
		 ORDER BY id`,
		kind, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("list deleted catalog ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan catalog id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog ids: %w", err)
	}
	return ids, nil
}

// CountCatalogRecords counts replica rows passing filter.
func (s *Store) CountCatalogRecords(ctx context.Context, filter CatalogFilter) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_records WHERE kind = ? AND (? = 1 OR deleted = 0) AND (? = 1 OR suppressed = 0)`,
		filter.Kind, boolInt(filter.IncludeDeleted), boolInt(filter.IncludeSuppressed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count catalog records: %w", err)
	}
	return n, nil
}

func collectRecords(rows *sql.Rows) ([]job.Record, error) {
	defer func() { _ = rows.Close() }()

	var out []job.Record
	for rows.Next() {
		var (
			id      string
			content string
		)
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan catalog record: %w", err)
		}
		out = append(out, job.Record{ID: id, Content: json.RawMessage(content)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog records: %w", err)
	}
	return out, nil
}
