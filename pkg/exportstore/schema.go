package exportstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the export schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		// Single-row counter backing the human readable job number.
		`CREATE TABLE IF NOT EXISTS job_execution_hrid (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_value INTEGER NOT NULL
		);`,
		`INSERT INTO job_execution_hrid (id, last_value)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS job_executions (
			id TEXT PRIMARY KEY,
			hrid INTEGER NOT NULL UNIQUE,
			status TEXT NOT NULL,
			job_profile_id TEXT,
			job_profile_name TEXT,
			run_by_user_id TEXT,
			run_by_first_name TEXT,
			run_by_last_name TEXT,
			started_at TEXT,
			last_updated_at TEXT NOT NULL,
			completed_at TEXT,
			progress_total INTEGER NOT NULL DEFAULT 0,
			progress_exported INTEGER NOT NULL DEFAULT 0,
			progress_failed INTEGER NOT NULL DEFAULT 0,
			progress_read INTEGER NOT NULL DEFAULT 0,
			progress_total_to_read INTEGER NOT NULL DEFAULT 0,
			exported_files TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_executions_status ON job_executions(status, last_updated_at);`,

		`CREATE TABLE IF NOT EXISTS file_definitions (
			id TEXT PRIMARY KEY,
			job_execution_id TEXT NOT NULL,
			upload_format TEXT NOT NULL,
			file_name TEXT NOT NULL,
			status TEXT NOT NULL,
			source_path TEXT,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_definitions_job ON file_definitions(job_execution_id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_definitions_created ON file_definitions(created_at);`,

		`CREATE TABLE IF NOT EXISTS export_ids (
			job_execution_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			PRIMARY KEY(job_execution_id, record_id)
		);`,

		`CREATE TABLE IF NOT EXISTS export_file_units (
			id TEXT PRIMARY KEY,
			job_execution_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_location TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			record_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			exported INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(job_execution_id) REFERENCES job_executions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_export_file_units_job ON export_file_units(job_execution_id, from_id);`,

		`CREATE TABLE IF NOT EXISTS error_logs (
			id TEXT PRIMARY KEY,
			job_execution_id TEXT NOT NULL,
			job_profile_id TEXT,
			error_code TEXT NOT NULL,
			error_values TEXT,
			message TEXT NOT NULL,
			affected_record_id TEXT,
			affected_record_type TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_error_logs_job ON error_logs(job_execution_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS catalog_records (
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			suppressed INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY(kind, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_records_deleted ON catalog_records(kind, deleted, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: catalog replica table; created above via CREATE TABLE IF NOT EXISTS.

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
