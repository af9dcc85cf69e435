package exportstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-org/mod-data-export/pkg/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDSNFor(t *testing.T) {
	dir := t.TempDir()

	dsn, err := dsnFor(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	dsn, err = dsnFor(Config{Path: dir + "/nested/export.db"})
	require.NoError(t, err)
	assert.Equal(t, "file:"+dir+"/nested/export.db", dsn)
	assert.DirExists(t, dir+"/nested")

	dsn, err = dsnFor(Config{URL: "libsql://db.example.io", AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=tok", dsn)

	dsn, err = dsnFor(Config{URL: "libsql://db.example.io?authToken=keep", AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=keep", dsn)

	dsn, err = dsnFor(Config{Path: "file:" + dir + "/uri/export.db?mode=rwc"})
	require.NoError(t, err)
	assert.Equal(t, "file:"+dir+"/uri/export.db?mode=rwc", dsn)
	assert.DirExists(t, dir+"/uri")

	_, err = dsnFor(Config{})
	assert.Error(t, err)
}

func TestOpen_LocalFileUsesWAL(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: t.TempDir() + "/export.db"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, s.DB()))

	var version int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
	parsed, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	// Fixed width keeps lexical and chronological order aligned.
	assert.Less(t, formatTime(ts), formatTime(ts.Add(time.Microsecond)))
	assert.Less(t, formatTime(ts.Truncate(time.Second)), formatTime(ts))
}

func TestParseTime_DriverForms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-10-14T05:22:02.079140Z", time.Date(2026, 10, 14, 5, 22, 2, 79140000, time.UTC)},
		// libsql trims trailing fractional zeros.
		{"2026-10-14T05:22:02.07914Z", time.Date(2026, 10, 14, 5, 22, 2, 79140000, time.UTC)},
		{"2026-10-14T05:22:04Z", time.Date(2026, 10, 14, 5, 22, 4, 0, time.UTC)},
		{"2026-10-14T07:22:04+02:00", time.Date(2026, 10, 14, 5, 22, 4, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := parseTime("yesterday")
	assert.ErrorContains(t, err, `parse timestamp "yesterday"`)
}

func TestTimeRoundTrip_WholeSecondsAndZeroMicros(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	whole := time.Date(2026, 10, 14, 5, 22, 4, 0, time.UTC)
	tenths := time.Date(2026, 10, 14, 5, 22, 2, 100000000, time.UTC)
	e := &job.Execution{Status: job.StatusFail, StartedDate: &tenths, LastUpdatedDate: whole}
	require.NoError(t, s.CreateJobExecution(ctx, e))

	got, err := s.GetJobExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, whole.Equal(got.LastUpdatedDate))
	require.NotNil(t, got.StartedDate)
	assert.True(t, tenths.Equal(*got.StartedDate))

	// Stored text stays fixed width for the lexical staleness query.
	var raw string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT last_updated_at FROM job_executions WHERE id = ?`, e.ID).Scan(&raw))
	assert.Equal(t, "2026-10-14T05:22:04.000000Z", raw)
}

func TestJobExecutions_TerminalIsFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := &job.Execution{}
	require.NoError(t, s.CreateJobExecution(ctx, e))
	require.NoError(t, e.Transition(job.StatusInProgress, now))
	require.NoError(t, s.UpdateJobExecution(ctx, e))

	// A concurrent writer fails the job while this copy is still running.
	expired := *e
	require.NoError(t, expired.Transition(job.StatusFail, now))
	require.NoError(t, s.UpdateJobExecution(ctx, &expired))

	require.NoError(t, e.Transition(job.StatusCompleted, now))
	err := s.UpdateJobExecution(ctx, e)
	assert.ErrorIs(t, err, ErrJobTerminal)
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, s.UpdateReadProgress(ctx, e.ID, 5, 5), ErrJobTerminal)
	assert.ErrorIs(t, s.SaveErrorLog(ctx, &job.ErrorLog{JobExecutionID: e.ID, ErrorCode: job.ErrorRecordNotFound, ErrorValues: []string{"x"}}), ErrJobTerminal)

	got, err := s.GetJobExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFail, got.Status)
	assert.Zero(t, got.Progress.Read)
	n, err := s.CountErrorLogs(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The staleness sweep may still collapse a terminal job's log.
	require.NoError(t, s.ReplaceErrorLogs(ctx, e.ID, job.ErrorLog{ErrorCode: job.ErrorJobExpired, ErrorValues: []string{"1h"}}))
	n, err = s.CountErrorLogs(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSetFailedCompletedDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC)

	open := &job.Execution{Status: job.StatusFail}
	running := &job.Execution{Status: job.StatusInProgress}
	require.NoError(t, s.CreateJobExecution(ctx, open))
	require.NoError(t, s.CreateJobExecution(ctx, running))

	require.NoError(t, s.SetFailedCompletedDate(ctx, open.ID, at))
	got, err := s.GetJobExecution(ctx, open.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedDate)
	assert.True(t, at.Equal(*got.CompletedDate))

	assert.True(t, IsNotFound(s.SetFailedCompletedDate(ctx, open.ID, at.Add(time.Hour))), "already repaired")
	assert.True(t, IsNotFound(s.SetFailedCompletedDate(ctx, running.ID, at)))
}

func TestJobExecutions_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &job.Execution{JobProfileID: "p1", RunBy: job.RunBy{UserID: "u1", FirstName: "Ada"}}
	second := &job.Execution{}
	require.NoError(t, s.CreateJobExecution(ctx, first))
	require.NoError(t, s.CreateJobExecution(ctx, second))

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, int64(1), first.HRID)
	assert.Equal(t, int64(2), second.HRID)
	assert.Equal(t, job.StatusNew, first.Status)

	got, err := s.GetJobExecution(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.JobProfileID)
	assert.Equal(t, "Ada", got.RunBy.FirstName)
	assert.Nil(t, got.CompletedDate)

	now := time.Now().UTC()
	require.NoError(t, got.Transition(job.StatusInProgress, now))
	got.Progress = job.Progress{Total: 10, Exported: 7, Failed: 3}
	got.ExportedFiles = []job.ExportedFile{{FileID: "f1", FileName: "a.mrc"}}
	require.NoError(t, got.Transition(job.StatusCompletedWithErrors, now))
	require.NoError(t, s.UpdateJobExecution(ctx, got))

	reloaded, err := s.GetJobExecution(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompletedWithErrors, reloaded.Status)
	assert.Equal(t, int64(7), reloaded.Progress.Exported)
	require.NotNil(t, reloaded.CompletedDate)
	require.NotNil(t, reloaded.StartedDate)
	assert.Equal(t, []job.ExportedFile{{FileID: "f1", FileName: "a.mrc"}}, reloaded.ExportedFiles)

	list, total, err := s.ListJobExecutions(ctx, JobQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest HRID first")

	list, total, err = s.ListJobExecutions(ctx, JobQuery{Statuses: []job.Status{job.StatusNew}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = s.GetJobExecution(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(s.UpdateJobExecution(ctx, &job.Execution{ID: "missing", Status: job.StatusNew})))
}

func TestDeleteJobExecution_RemovesDependents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &job.Execution{}
	require.NoError(t, s.CreateJobExecution(ctx, e))
	_, err := s.InsertIdentifiers(ctx, e.ID, []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, s.SaveErrorLog(ctx, &job.ErrorLog{JobExecutionID: e.ID, ErrorCode: job.ErrorFetchChunk, ErrorValues: []string{"x"}}))
	require.NoError(t, s.CreateFileDefinition(ctx, &job.FileDefinition{JobExecutionID: e.ID, FileName: "ids.csv"}))

	require.NoError(t, s.DeleteJobExecution(ctx, e.ID))

	n, err := s.CountIdentifiers(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.CountErrorLogs(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, IsNotFound(s.DeleteJobExecution(ctx, e.ID)))
}

func TestListStaleJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &job.Execution{Status: job.StatusInProgress, LastUpdatedDate: now.Add(-2 * time.Hour)}
	fresh := &job.Execution{Status: job.StatusInProgress, LastUpdatedDate: now.Add(-time.Minute)}
	done := &job.Execution{Status: job.StatusCompleted, LastUpdatedDate: now.Add(-3 * time.Hour)}
	for _, e := range []*job.Execution{stale, fresh, done} {
		require.NoError(t, s.CreateJobExecution(ctx, e))
	}

	got, err := s.ListStaleJobs(ctx, job.StatusInProgress, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)

	failed := &job.Execution{Status: job.StatusFail, LastUpdatedDate: now}
	require.NoError(t, s.CreateJobExecution(ctx, failed))
	open, err := s.ListFailedWithoutCompletedDate(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, failed.ID, open[0].ID)
}

func TestUpdateReadProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &job.Execution{}
	require.NoError(t, s.CreateJobExecution(ctx, e))
	require.NoError(t, s.UpdateReadProgress(ctx, e.ID, 1000, 4000))

	got, err := s.GetJobExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Progress.Read)
	assert.Equal(t, int64(4000), got.Progress.TotalToRead)
}

func TestFileDefinitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fd := &job.FileDefinition{JobExecutionID: "job-1", FileName: "ids.csv"}
	require.NoError(t, s.CreateFileDefinition(ctx, fd))
	assert.Equal(t, job.FileDefinitionNew, fd.Status)
	assert.Equal(t, job.FormatCSV, fd.Format)

	fd.Status = job.FileDefinitionCompleted
	fd.SourcePath = "uploads/" + fd.ID + "/ids.csv"
	fd.Size = 42
	require.NoError(t, s.UpdateFileDefinition(ctx, fd))

	got, err := s.GetFileDefinition(ctx, fd.ID)
	require.NoError(t, err)
	assert.Equal(t, job.FileDefinitionCompleted, got.Status)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, fd.SourcePath, got.SourcePath)

	old, err := s.ListFileDefinitionsCreatedBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, old, 1)

	require.NoError(t, s.DeleteFileDefinition(ctx, fd.ID))
	_, err = s.GetFileDefinition(ctx, fd.ID)
	assert.True(t, IsNotFound(err))
}
